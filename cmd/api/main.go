package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"medregis.org/internal/audit"
	"medregis.org/internal/auth"
	"medregis.org/internal/httpapi"
	"medregis.org/internal/obs"
	"medregis.org/internal/stream"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("MEDREGIS_COMMIT"))

	// Postgres when a DSN is set, in-memory store otherwise (dev mode).
	var (
		db    *sql.DB
		store auth.Store
	)
	if dsn := os.Getenv("MEDREGIS_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
	} else {
		log.Print("MEDREGIS_PG_DSN not set, using in-memory store")
		store = auth.NewMemory()
	}

	// Audit fan-out: JSON log always, Postgres when available, live feed for
	// the admin console.
	feed := stream.New()
	recorder := audit.Multi{audit.LogRecorder{}, feed}
	if db != nil {
		recorder = append(recorder, audit.NewPGRecorder(db))
	}

	sessions := auth.NewSessions(store,
		auth.WithLifetime(durationEnv("MEDREGIS_SESSION_TTL", auth.DefaultLifetime)),
		auth.WithSessionRecorder(recorder),
	)
	directory := auth.NewDirectory(store, auth.WithDirectoryRecorder(recorder))
	engine := auth.NewEngine(store, sessions, directory, auth.WithEngineRecorder(recorder))
	switcher := auth.NewSwitcher(sessions, directory, auth.WithSwitcherRecorder(recorder))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reaper := auth.NewReaper(sessions,
		durationEnv("MEDREGIS_REAPER_INTERVAL", auth.DefaultReapInterval), recorder)
	go reaper.Run(ctx)

	api := httpapi.New(httpapi.Services{
		Engine:    engine,
		Sessions:  sessions,
		Switcher:  switcher,
		Directory: directory,
		Stream:    feed,
	}, httpapi.ReadyProbe{DB: db}, version)

	addr := os.Getenv("MEDREGIS_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting medregis-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("invalid %s=%q, using %s", name, raw, fallback)
		return fallback
	}
	return d
}
