package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/tinyblog/blog/config"
	"github.com/tinyblog/blog/internal/db"
	"github.com/tinyblog/blog/internal/feed"
	"github.com/tinyblog/blog/internal/handlers"
	"github.com/tinyblog/blog/internal/metrics"
	"github.com/tinyblog/blog/internal/mq"
	"github.com/tinyblog/blog/internal/services"
	"github.com/tinyblog/blog/internal/session"
	"github.com/tinyblog/blog/internal/store"
)

const (
	defaultPort    = 5000
	requestTimeout = 60 * time.Second
)

// Server wraps the HTTP server, its router and the background workers
// (feed hub, event relay) that live as long as it does.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sqlx.DB
	redis      *redis.Client
	broker     mq.Backend
	hub        *feed.Hub
	logger     *logrus.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens the database, applies migrations and wires every component.
func New(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*Server, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.SecretKey == "" {
		return nil, errors.New("SECRET_KEY is required")
	}
	if cfg.UsesDefaultSecret() {
		logger.Warn("SECRET_KEY not set, using the development key")
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(dbConn); err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	s := &Server{db: dbConn, logger: logger}
	if err := s.wire(ctx, cfg); err != nil {
		s.closeResources()
		return nil, err
	}
	return s, nil
}

func (s *Server) wire(ctx context.Context, cfg config.Config) error {
	accountRepo := store.NewAccountRepository(s.db)
	postRepo := store.NewPostRepository(s.db)

	hub := feed.NewHub(s.logger)
	s.hub = hub

	var listener services.PostListener = hub
	broker, err := mq.New(ctx, cfg)
	switch {
	case err == nil:
		s.broker = broker
		listener = mq.NewPostPublisher(broker, cfg.MQ.Channel, s.logger)
	case errors.Is(err, mq.ErrNoBackend):
	default:
		return err
	}

	accountService := services.NewAccountService(accountRepo)
	postService := services.NewPostService(postRepo, listener)

	sessionStore, err := s.sessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	sessions := session.NewManager(sessionStore, cfg.SecretKey, session.Options{
		CookieName:  cfg.Session.CookieName,
		TTL:         cfg.Session.TTL,
		RememberTTL: cfg.Session.RememberTTL,
		Secure:      cfg.Session.CookieSecure,
	})

	views, err := handlers.NewViews(sessions)
	if err != nil {
		return err
	}
	authHandler := handlers.NewAuthHandler(accountService, sessions, views, s.logger)
	postHandler := handlers.NewPostHandler(postService, sessions, views, s.logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		handlers.RequestLogger(s.logger),
		metrics.InstrumentHandler,
	)
	router.Get("/healthz", handlers.Healthz)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())
	// The feed is long-lived and must not inherit the request timeout.
	router.Get("/feed", hub.ServeWS)

	router.Group(func(r chi.Router) {
		r.Use(
			middleware.Timeout(requestTimeout),
			sessions.Middleware,
			handlers.Identity(accountService, s.logger),
		)
		handlers.AuthRouter(r, authHandler)
		handlers.PostRouter(r, postHandler, authHandler.RequireAuth)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = defaultPort
	}
	s.router = router
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		hub.Run(bgCtx)
	}()
	if s.broker != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.relay(bgCtx, cfg.MQ.Channel, hub)
		}()
	}
	return nil
}

func (s *Server) sessionStore(ctx context.Context, cfg config.Config) (session.Store, error) {
	switch cfg.Session.Store {
	case "", "memory":
		return session.NewMemoryStore(), nil
	case "redis":
		client, err := session.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		s.redis = client
		return session.NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Session.Store)
	}
}

// relay feeds posts published by any instance into the local hub,
// resubscribing with a delay when the broker drops the subscription.
func (s *Server) relay(ctx context.Context, channel string, hub *feed.Hub) {
	for {
		err := mq.RelayPosts(ctx, s.broker, channel, hub.Broadcast, s.logger)
		if ctx.Err() != nil {
			return
		}
		s.logger.WithError(err).WithField("channel", channel).Warn("post relay stopped, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, stops background workers and closes
// every connection the server owns.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.closeResources()
	return err
}

func (s *Server) closeResources() {
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
	if s.broker != nil {
		if err := s.broker.Close(); err != nil {
			s.logger.WithError(err).Warn("close message queue")
		}
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}
