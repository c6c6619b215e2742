package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"vendra.io/internal/activity"
	"vendra.io/internal/httpapi"
	"vendra.io/internal/notify"
	"vendra.io/internal/obs"
	"vendra.io/internal/rbac"
	"vendra.io/internal/store/pg"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("VENDRA_PG_DSN")
	if dsn == "" {
		log.Fatal("VENDRA_PG_DSN is required")
	}
	secret := os.Getenv("VENDRA_AUTH_SECRET")
	if secret == "" {
		log.Fatal("VENDRA_AUTH_SECRET is required")
	}

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	authOpts := []rbac.ServiceOption{rbac.WithSecret(secret)}
	if ttl := envDuration("VENDRA_ACCESS_TTL"); ttl > 0 {
		authOpts = append(authOpts, rbac.WithAccessTTL(ttl))
	}
	if ttl := envDuration("VENDRA_REFRESH_TTL"); ttl > 0 {
		authOpts = append(authOpts, rbac.WithRefreshTTL(ttl))
	}
	auth, err := rbac.NewService(store, authOpts...)
	if err != nil {
		log.Fatalf("rbac: %v", err)
	}
	recorder, err := activity.NewRecorder(store)
	if err != nil {
		log.Fatalf("activity: %v", err)
	}
	notifier, err := notify.NewService(store)
	if err != nil {
		log.Fatalf("notify: %v", err)
	}

	if envBool("VENDRA_SEED_ON_START") {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := auth.Seed(ctx); err != nil {
			cancel()
			log.Fatalf("seed: %v", err)
		}
		cancel()
	}

	api := httpapi.New(auth, recorder, notifier, httpapi.ReadyProbe{DB: store.DB()}, version)
	if envBool("VENDRA_INSECURE_COOKIES") {
		api.SecureCookies(false)
	}

	addr := os.Getenv("VENDRA_ADDR")
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

	// Expired refresh sessions pile up otherwise; sweep them hourly.
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				n, err := store.DeleteExpiredSessions(cleanupCtx, time.Now().UTC())
				if err != nil {
					obs.LogEvent("error", "session cleanup failed", map[string]any{"error": err.Error()})
					continue
				}
				if n > 0 {
					obs.LogEvent("info", "expired sessions removed", map[string]any{"count": n})
				}
			}
		}
	}()

	log.Printf("Starting vendra-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cleanupCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

func envDuration(name string) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}
	return d
}

func envBool(name string) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return false
	}
	on, err := strconv.ParseBool(raw)
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}
	return on
}
