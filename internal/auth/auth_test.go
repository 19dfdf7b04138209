package auth

import "testing"

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "correct horse" {
		t.Fatal("password stored in plaintext")
	}
	if !CheckPassword("correct horse", hash) {
		t.Error("correct password rejected")
	}
	if CheckPassword("wrong", hash) {
		t.Error("wrong password accepted")
	}
}

func TestSessionStore_Lifecycle(t *testing.T) {
	store := NewSessionStore()

	token, err := store.Create(42)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if userID, ok := store.Get(token); !ok || userID != 42 {
		t.Fatalf("expected user 42, got %d (ok=%v)", userID, ok)
	}

	store.Delete(token)
	if _, ok := store.Get(token); ok {
		t.Error("token valid after delete")
	}
}

func TestSessionStore_DeleteByUserID(t *testing.T) {
	store := NewSessionStore()

	t1, _ := store.Create(1)
	t2, _ := store.Create(1)
	t3, _ := store.Create(2)

	store.DeleteByUserID(1)

	if _, ok := store.Get(t1); ok {
		t.Error("user 1 token t1 survived")
	}
	if _, ok := store.Get(t2); ok {
		t.Error("user 1 token t2 survived")
	}
	if _, ok := store.Get(t3); !ok {
		t.Error("user 2 token was removed")
	}
}

func TestSessionStore_TokensAreUnique(t *testing.T) {
	store := NewSessionStore()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := store.Create(uint(i))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token after %d creates", i)
		}
		seen[token] = true
	}
}
