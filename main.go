package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/drydock-sh/drydock/internal/auth"
	"github.com/drydock-sh/drydock/internal/catalog"
	"github.com/drydock-sh/drydock/internal/config"
	"github.com/drydock-sh/drydock/internal/database"
	"github.com/drydock-sh/drydock/internal/handlers"
	"github.com/drydock-sh/drydock/internal/logging"
	"github.com/drydock-sh/drydock/internal/middleware"
	"github.com/drydock-sh/drydock/internal/monitor"
	"github.com/drydock-sh/drydock/internal/runtime"
	"github.com/drydock-sh/drydock/internal/session"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--create-admin":
			runCLICommand("create-admin")
			return
		case "--reset-password":
			runCLICommand("reset-password")
			return
		}
	}

	config.Load()
	logging.Init()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	log.Printf("Config: AuthDisabled=%v MaxSessionsPerUser=%d IdleTimeout=%s MaxAge=%s",
		config.Cfg.AuthDisabled, config.Cfg.MaxSessionsPerUser,
		config.Cfg.SessionIdleTimeout, config.Cfg.SessionMaxAge)

	cat, err := catalog.Load(config.Cfg.CatalogPath)
	if err != nil {
		log.Fatalf("Catalog init: %v", err)
	}
	log.Printf("Catalog loaded: %d profiles", len(cat.List()))

	ctx := context.Background()
	adapter, err := runtime.NewDockerAdapter(ctx, config.Cfg.DockerHost)
	if err != nil {
		log.Fatalf("Runtime init: %v", err)
	}

	reg := session.NewRegistry(adapter, cat, session.Config{
		MaxPerUser:  config.Cfg.MaxSessionsPerUser,
		IdleTimeout: config.Cfg.SessionIdleTimeout,
		MaxAge:      config.Cfg.SessionMaxAge,
	})
	reg.OnClosed = func(s *session.Session, reason string) {
		rec := &database.SessionLog{
			SessionID: s.ID,
			UserID:    s.UserID,
			Profile:   s.Profile,
			Shell:     s.Shell,
			RuntimeID: s.RuntimeID(),
			Reason:    reason,
			StartedAt: s.CreatedAt,
			EndedAt:   time.Now(),
		}
		if err := database.RecordSessionEnd(rec); err != nil {
			log.Printf("WARNING: session audit record for %s: %v", s.ID, err)
		}
	}

	reaper := session.NewReaper(reg)
	reconciler := session.NewReconciler(reg, adapter)
	mon := monitor.New(adapter, reg)

	// Destroy environments left behind by a previous process before
	// accepting traffic.
	if n := reconciler.Sweep(ctx); n > 0 {
		log.Printf("Startup reconcile: destroyed %d orphaned environments", n)
	}

	sessionStore := auth.NewSessionStore()

	handlers.SessionStore = sessionStore
	handlers.Registry = reg
	handlers.Catalog = cat
	handlers.Reconciler = reconciler
	handlers.Monitor = mon
	handlers.Adapter = adapter

	// Background jobs
	jobs := cron.New()
	jobs.AddFunc("@every "+config.Cfg.ReapInterval, func() {
		if n := reaper.Sweep(context.Background()); n > 0 {
			log.Printf("Reaper: expired %d sessions", n)
		}
	})
	jobs.AddFunc("@every "+config.Cfg.ReconcileInterval, func() {
		reconciler.Sweep(context.Background())
	})
	jobs.AddFunc("@every "+config.Cfg.StatsInterval, func() {
		mon.Poll(context.Background())
	})
	jobs.AddFunc("@every 10m", sessionStore.Cleanup)
	jobs.Start()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", handlers.Health)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Auth endpoints (no auth required)
		r.Post("/auth/login", handlers.Login)
		r.Get("/auth/setup-required", handlers.SetupRequired)
		r.Post("/auth/setup", handlers.SetupCreateAdmin)

		// Protected routes (require auth)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sessionStore))

			r.Post("/auth/logout", handlers.Logout)
			r.Get("/auth/me", handlers.GetCurrentUser)

			// Terminal WebSocket
			r.Get("/terminal", handlers.TerminalWS)

			// Sessions (ListSessions filters by role internally)
			r.Get("/sessions", handlers.ListSessions)

			// Environment profiles
			r.Get("/profiles", handlers.ListProfiles)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)

				r.Delete("/sessions/{sessionId}", handlers.TerminateSession)
				r.Get("/sessions/history", handlers.SessionHistory)

				r.Get("/orphans", handlers.ListOrphans)
				r.Delete("/orphans/{runtimeId}", handlers.DestroyOrphan)

				r.Get("/stats", handlers.GetStats)

				r.Get("/profiles/{name}/image", handlers.GetProfileImage)
				r.Post("/profiles/{name}/build", handlers.BuildProfileImage)

				// User management
				r.Get("/users", handlers.ListUsers)
				r.Post("/users", handlers.CreateUser)
				r.Delete("/users/{userId}", handlers.DeleteUser)
				r.Post("/users/{userId}/reset-password", handlers.ResetUserPassword)

				// Server logs
				r.Get("/server-logs", handlers.GetServerLogs)
				r.Delete("/server-logs", handlers.ClearServerLogs)
			})
		})
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	jobs.Stop()
	reg.TerminateAll(context.Background(), "server shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func runCLICommand(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	username := fs.String("username", "", "Username")
	password := fs.String("password", "", "Password")
	fs.Parse(os.Args[2:])

	if *username == "" || *password == "" {
		fmt.Fprintf(os.Stderr, "Usage: drydock --%s --username <user> --password <pass>\n", command)
		os.Exit(1)
	}

	config.Load()
	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	switch command {
	case "create-admin":
		user := &database.User{
			Username:     *username,
			PasswordHash: hash,
			Role:         "admin",
		}
		if err := database.CreateUser(user); err != nil {
			log.Fatalf("Failed to create admin: %v", err)
		}
		fmt.Printf("Admin user '%s' created successfully.\n", *username)

	case "reset-password":
		user, err := database.GetUserByUsername(*username)
		if err != nil {
			log.Fatalf("User '%s' not found", *username)
		}
		if err := database.UpdateUserPassword(user.ID, hash); err != nil {
			log.Fatalf("Failed to update password: %v", err)
		}
		fmt.Printf("Password reset for '%s'.\n", *username)
	}
}
