package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inbox/internal/composer"
	"github.com/inbox/internal/config"
	"github.com/inbox/internal/directory"
	"github.com/inbox/internal/events"
	"github.com/inbox/internal/feed"
	"github.com/inbox/internal/feed/pgnotify"
	"github.com/inbox/internal/handler"
	"github.com/inbox/internal/logger"
	"github.com/inbox/internal/mapper"
	"github.com/inbox/internal/metrics"
	"github.com/inbox/internal/middleware"
	"github.com/inbox/internal/push"
	"github.com/inbox/internal/repository"
	"github.com/inbox/internal/session"
	"github.com/inbox/internal/startup"
	"github.com/inbox/internal/storage"
	"github.com/inbox/internal/storage/memory"
	"github.com/inbox/internal/store"
	"github.com/inbox/internal/ws"
	"github.com/inbox/migrations"
)

// Fixed ids of the users seeded in -dev and -memory modes.
var devUsers = []mapper.UserRow{
	{ID: "00000000-0000-0000-0000-00000000000a", FullName: "Alice", Email: "alice@example.com"},
	{ID: "00000000-0000-0000-0000-00000000000b", FullName: "Bob", Email: "bob@example.com"},
	{ID: "00000000-0000-0000-0000-00000000000c", FullName: "Carol", Email: "carol@example.com"},
}

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	inMemory := flag.Bool("memory", false, "keep chats in process memory (no PostgreSQL at all)")
	flag.Parse()

	logger.Info("starting inbox API")
	cfg := config.Load()

	bgCtx, bgCancel := context.WithCancel(context.Background())
	var bgWg sync.WaitGroup
	goBg := func(fn func(ctx context.Context)) {
		bgWg.Add(1)
		go func() {
			defer bgWg.Done()
			fn(bgCtx)
		}()
	}

	// Every consumer of the change feed subscribes through the broker. With
	// Postgres one upstream LISTEN connection is relayed into it; the memory
	// store publishes into it directly.
	broker := feed.NewBroker()
	var st store.Store

	if *inMemory {
		mem := memory.NewStore(broker)
		for _, u := range devUsers {
			mem.PutUser(u)
		}
		st = mem
		metrics.SetFeedHealthy(true)
		logger.Info("memory store: chats are lost on restart")
	} else {
		if *dev {
			embeddedDB, err := startEmbeddedPostgres(cfg)
			if err != nil {
				logger.Errorf("embedded postgres: %v", err)
				os.Exit(1)
			}
			defer func() {
				logger.Info("stopping embedded postgres...")
				if err := embeddedDB.Stop(); err != nil {
					logger.Errorf("embedded postgres stop: %v", err)
				}
			}()
		}

		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
		if err != nil {
			logger.Errorf("parse db config: %v", err)
			os.Exit(1)
		}
		poolCfg.MaxConns = int32(cfg.DBMaxConnections())
		poolCfg.MinConns = 4

		pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
		defer pool.Close()

		runMigrations(pool)
		if *migrate && !*dev {
			return
		}
		if *dev {
			seedUsers(pool)
		}
		logger.Info("database connected, migrations applied")

		st = repository.NewStore(pool)
		upstream := feed.NewSubscriber(pgnotify.New(pool, cfg.Feed.Channel), feedConfig(cfg, "pgnotify"))
		upstream.OnHealth(metrics.SetFeedHealthy)
		broker.Relay(upstream)
		goBg(func(ctx context.Context) {
			if err := upstream.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Errorf("change feed: %v", err)
			}
		})
	}

	var sessions storage.SessionStore
	if cfg.Redis.URL != "" {
		sessions = startup.ConnectRedisWithRetry(cfg.Redis.URL, 30*time.Second, "")
		logger.Info("redis connected")
	} else {
		sessions = memory.New()
		logger.Info("REDIS_URL not set: presence and push subscriptions kept in memory")
	}
	defer sessions.Close()

	publisher := events.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()
	if events.Mode(publisher) == "noop" {
		logger.Infof("domain events disabled: %s", events.NoopReason(publisher))
	}

	comp := composer.New(st, publisher, composer.WithService("inbox-api"))

	vapidPublic := ""
	if cfg.Push.Enabled {
		keys, err := push.EnsureVAPIDKeys(cfg.Push.VAPIDKeysPath)
		if err != nil {
			logger.Errorf("VAPID keys: %v (push disabled)", err)
		} else {
			vapidPublic = keys.PublicKey
			pushFeed := feed.NewSubscriber(broker, feedConfig(cfg, "push"))
			dispatcher := push.NewDispatcher(st, sessions, sessions, push.NewWebPushSender(keys, cfg.Push.VAPIDSubscriber))
			dispatcher.Subscribe(pushFeed)
			goBg(func(ctx context.Context) { _ = pushFeed.Run(ctx) })
			goBg(dispatcher.Run)
		}
	}

	loc := cfg.Location()
	dirSort := directory.Sort(cfg.Directory.Sort)
	sessionCfg := session.Config{
		ReadyTimeout: cfg.Session.ReadyTimeout,
		Location:     loc,
		Directory:    []directory.Option{directory.WithSort(dirSort), directory.WithDebounce(cfg.Directory.Debounce)},
	}
	hub := ws.NewHub(func(userID string, sink session.Sink) *session.Session {
		sub := feed.NewSubscriber(broker, feedConfig(cfg, "session"))
		return session.New(userID, session.Deps{Store: st, Feed: sub, Presence: sessions, Composer: comp}, sink, sessionCfg)
	}, cfg.MaxWSConnections)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	chatH := handler.NewChatHandler(st, comp, dirSort)
	msgH := handler.NewMessageHandler(st, comp, loc)
	userH := handler.NewUserHandler(st)
	presenceH := handler.NewPresenceHandler(sessions)
	pushH := handler.NewPushHandler(sessions, vapidPublic)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	authMW := middleware.HeaderAuth
	if cfg.AuthServiceURL != "" {
		authMW = middleware.RemoteAuth(cfg.AuthServiceURL, nil)
	} else {
		logger.Info("AUTH_SERVICE_URL not set: trusting X-User-Id (development only)")
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// WebSocket upgrades need the raw ResponseWriter (http.Hijacker), so skip compression.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(metrics.HTTP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id", "X-Timestamp", "X-Signature", "X-User-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"connections": hub.Connections(),
		})
	})
	r.With(middleware.InternalOnly(cfg.MetricsSecret)).Handle("/metrics", promhttp.Handler())
	r.Get("/api/push/vapid-public", pushH.VAPIDPublicKey)

	r.Group(func(r chi.Router) {
		r.Use(authMW)
		r.Use(middleware.RateLimit(cfg.RateLimitPerIP, cfg.RateLimitPerUser))
		r.Get("/api/users/me", userH.GetProfile)
		r.Get("/api/users/{id}", userH.GetUser)
		r.Get("/api/chats", chatH.GetUserChats)
		r.Post("/api/chats", chatH.CreateChat)
		r.Post("/api/chats/{chatId}/tags", chatH.AddTag)
		r.Get("/api/chats/{chatId}/messages", msgH.GetMessages)
		r.Post("/api/chats/{chatId}/messages", msgH.SendMessage)
		r.Post("/api/chats/{chatId}/read", msgH.MarkAsRead)
		r.Get("/api/presence", presenceH.GetPresence)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/ws", wsH.ServeWS)
	})

	webDist := "./web/dist"
	if info, err := os.Stat(webDist); err == nil && info.IsDir() {
		r.Get("/*", spaHandler(webDist))
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	bgCancel()
	bgWg.Wait()
	logger.Info("feed and push workers stopped")
	srvWg.Wait()
}

func feedConfig(cfg *config.Config, name string) feed.Config {
	return feed.Config{Name: name, InitialBackoff: cfg.Feed.InitialBackoff, MaxBackoff: cfg.Feed.MaxBackoff}
}

func spaHandler(dir string) http.HandlerFunc {
	root := http.Dir(dir)
	fileServer := http.FileServer(root)
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(filepath.Clean(r.URL.Path), "/")
		if path == "" {
			path = "index.html"
		}
		if f, err := root.Open(path); err != nil {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
		} else {
			f.Close()
			fileServer.ServeHTTP(w, r)
		}
	}
}

// runMigrations applies every embedded .sql file in name order. The files are
// idempotent, so they run on every start.
func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	files, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		logger.Errorf("list migrations: %v", err)
		os.Exit(1)
	}
	sort.Strings(files)
	for _, f := range files {
		data, err := migrations.Files.ReadFile(f)
		if err != nil {
			logger.Errorf("read migration %s: %v", f, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", f, err)
			os.Exit(1)
		}
	}
	logger.Infof("migrations applied: %d", len(files))
}

func seedUsers(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	users := repository.NewUserRepository(pool)
	for _, u := range devUsers {
		if err := users.Create(ctx, u); err != nil {
			logger.Errorf("seed user %s: %v", u.FullName, err)
		}
	}
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "inbox"
		password = "inbox_secret"
		database = "inbox"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
