package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hobbyme/hobbyme/geocode"
	"github.com/hobbyme/hobbyme/logging"
	"github.com/hobbyme/hobbyme/matching"
	"github.com/hobbyme/hobbyme/messaging"
)

func main() {
	logging.Setup()
	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	jwtSecret = []byte(cfg.JWTSecret)
	trustedProxies = cfg.TrustedProxies

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err = initDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	var limiter rateAllower
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			slog.Warn("redis unreachable, rate limiter will fail open", "addr", cfg.RedisAddr, "error", err)
		}
		cancel()
		limiter = newRedisLimiter(rdb)
	} else {
		slog.Info("REDIS_ADDR not set, rate limiting disabled")
	}

	var nc *messaging.NATSClient
	if cfg.NATSURL != "" {
		nc, err = messaging.NewNATSClient(messaging.DefaultNATSConfig(cfg.NATSURL))
		if err != nil {
			return err
		}
		defer nc.Close()
	}

	hub := newHub()
	bus, err := newEventBus(hub, nc)
	if err != nil {
		return err
	}

	geoClient, err := geocode.New(geocode.Config{
		BaseURL:   cfg.GeocoderURL,
		APIKey:    cfg.GeocoderAPIKey,
		CacheSize: cfg.GeocodeCacheSize,
	}, nil)
	if err != nil {
		return err
	}
	if !geoClient.Enabled() {
		slog.Info("GEOCODER_API_KEY not set, locations will not be geocoded")
	}

	store := newPGStore(db)
	svc := matching.NewService(store, store, matching.WithRadius(cfg.SearchRadiusMiles))
	uploads := uploadStore{root: cfg.UploadDir}

	mux := newRouter(cfg, db, routerDeps{
		store:    store,
		service:  svc,
		geocoder: countingGeocoder{next: geoClient},
		uploads:  uploads,
		hub:      hub,
		bus:      bus,
		limiter:  limiter,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           withCORS(cfg.AllowedOrigins, withRequestLogging(DataLoaderMiddleware(db)(mux))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting HobbyMe backend", "addr", cfg.Addr, "env", cfg.GoEnv)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type routerDeps struct {
	store    *pgStore
	service  *matching.Service
	geocoder geocoder
	uploads  uploadStore
	hub      *Hub
	bus      *eventBus
	limiter  rateAllower
}

func newRouter(cfg Config, db *sql.DB, d routerDeps) *http.ServeMux {
	mux := http.NewServeMux()

	// Auth
	mux.Handle("/register", rateLimited(d.limiter, ruleRegister, registerHandler(db, d.bus)))
	mux.Handle("/login", rateLimited(d.limiter, ruleLogin, loginHandler(db)))

	// Own profile, hobbies, media
	mux.Handle("/me/profile", meProfileHandler(db, d.store, d.geocoder, d.bus))
	mux.Handle("/me/hobbies", myHobbiesHandler(db, d.store, d.bus))
	mux.Handle("/me/avatar", myAvatarHandler(db, d.uploads, d.bus))
	mux.Handle("/me/media", myMediaHandler(db, d.uploads))
	mux.Handle("/me/media/", myMediaHandler(db, d.uploads))
	mux.Handle("/me/ping", mePingHandler())

	// Catalogue and other users
	mux.Handle("/hobbies", hobbiesHandler(db))
	mux.Handle("/users/", usersHandler(db, d.store))
	mux.Handle("/admin/profiles", adminProfilesHandler(db, d.store, d.uploads, d.bus))
	mux.Handle("/admin/profiles/", adminProfilesHandler(db, d.store, d.uploads, d.bus))

	// Matching
	mux.Handle("/dashboard", dashboardHandler(d.service))
	mux.Handle("/suggestions", suggestionsHandler(d.service))

	// Chat
	mux.Handle("/chats", chatListHandler(db))
	mux.Handle("/chats/", chatsHandler(db, d.uploads, d.bus))
	mux.Handle("/ws/chat", wsChatHandler(db, d.hub, d.bus, newUpgrader(cfg.AllowedOrigins)))

	mux.Handle("/uploads/", d.uploads.handler())
	mux.Handle("/metrics", metricsHandler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":          "ok",
			"connected_users": d.hub.connectedUsers(),
		})
	})

	return mux
}
