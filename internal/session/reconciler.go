package session

import (
	"context"
	"log"

	"github.com/drydock-sh/drydock/internal/runtime"
)

// Reconciler compares the runtime's live environments against the registry
// and surfaces orphans: environments with no owning session, typically left
// behind by a process restart (the in-memory registry does not survive one,
// the runtime's environments may).
type Reconciler struct {
	reg     *Registry
	adapter runtime.Adapter
}

func NewReconciler(reg *Registry, adapter runtime.Adapter) *Reconciler {
	return &Reconciler{reg: reg, adapter: adapter}
}

// Orphans returns the runtime identifiers of managed environments that no
// registered session owns.
func (rc *Reconciler) Orphans(ctx context.Context) ([]string, error) {
	running, err := rc.adapter.ListRunning(ctx)
	if err != nil {
		return nil, err
	}

	owned := make(map[string]struct{})
	for _, id := range rc.reg.RuntimeIDs() {
		owned[id] = struct{}{}
	}

	var orphans []string
	for _, id := range running {
		if _, ok := owned[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	return orphans, nil
}

// DestroyOrphan destroys an environment by runtime identifier. It never
// touches the registry: an orphan by definition has nothing to remove there.
func (rc *Reconciler) DestroyOrphan(ctx context.Context, runtimeID string) {
	log.Printf("[reconciler] destroying orphan environment %s", runtimeID)
	rc.adapter.Destroy(ctx, runtimeID)
}

// Sweep destroys all orphans and returns how many were found.
func (rc *Reconciler) Sweep(ctx context.Context) int {
	orphans, err := rc.Orphans(ctx)
	if err != nil {
		log.Printf("[reconciler] list running environments: %v", err)
		return 0
	}
	for _, id := range orphans {
		rc.DestroyOrphan(ctx, id)
	}
	return len(orphans)
}
