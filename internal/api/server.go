package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/santehsupply/orders-api/internal/auth"
	"github.com/santehsupply/orders-api/internal/clients"
	"github.com/santehsupply/orders-api/internal/config"
	"github.com/santehsupply/orders-api/internal/database"
	"github.com/santehsupply/orders-api/internal/models"
	"github.com/santehsupply/orders-api/internal/outbox"
	"github.com/santehsupply/orders-api/internal/repository"
	"github.com/santehsupply/orders-api/internal/service"
	"github.com/santehsupply/orders-api/pkg/kafka"
	"github.com/santehsupply/orders-api/pkg/logger"
	"github.com/santehsupply/orders-api/pkg/middleware"
)

type Server struct {
	config          *config.Config
	logger          logger.Logger
	router          *mux.Router
	httpServer      *http.Server
	db              *database.Database
	orderRepo       *repository.OrderRepository
	outboxRepo      *repository.OutboxRepository
	userRepo        *repository.UserRepository
	outboxProcessor *outbox.Processor
	orderService    *service.OrderService
	kafkaProducer   *kafka.Producer
	rateLimiter     *middleware.RateLimiterMiddleware
}

// NewServer wires the database, repositories, outbox processor and HTTP
// routes into a runnable API server.
func NewServer(cfg *config.Config, logger logger.Logger) (*Server, error) {
	r := mux.NewRouter()

	db, err := database.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.RunMigrations(); err != nil {
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	outboxRepo := repository.NewOutboxRepository(db, logger)
	orderRepo := repository.NewOrderRepository(db, outboxRepo, logger)
	userRepo := repository.NewUserRepository(db, logger)

	catalogClient := clients.NewCatalogClient(cfg.Catalog.BaseURL, logger)

	orderService := service.NewOrderService(orderRepo, catalogClient, userRepo, logger)

	outboxProcessor := outbox.NewProcessor(outboxRepo, outbox.ProcessorConfig{
		PollingInterval: 5 * time.Second,
		BatchSize:       10,
		MaxRetries:      3,
	}, logger)

	// With Kafka disabled (local development, tests) events still drain
	// from the outbox, into the log.
	var kafkaProducer *kafka.Producer
	var eventHandler outbox.MessageHandler

	if cfg.Kafka.Enabled {
		kafkaProducer, err = kafka.NewProducer(cfg.Kafka.Brokers, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
		}
		eventHandler = outbox.NewKafkaHandler(kafkaProducer, cfg.Kafka.OrdersTopic, logger)
	} else {
		eventHandler = outbox.NewLoggingHandler(logger)
	}

	for _, eventType := range []string{
		models.EventOrderCreated,
		models.EventOrderStatusChanged,
		models.EventOrderClaimed,
		models.EventOrderAssigned,
		models.EventOrderDeleted,
	} {
		outboxProcessor.RegisterHandler(eventType, eventHandler)
	}

	rateLimiter := middleware.NewRateLimiterMiddleware(&middleware.RateLimiterConfig{
		GlobalMaxTokens:   cfg.Rate.GlobalMaxTokens,
		GlobalRefillRate:  cfg.Rate.GlobalRefillRate,
		IPMaxTokens:       cfg.Rate.IPMaxTokens,
		IPRefillRate:      cfg.Rate.IPRefillRate,
		TrustForwardedFor: cfg.Rate.TrustForwardedFor,
	}, logger)

	server := &Server{
		router: r,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger:          logger,
		config:          cfg,
		db:              db,
		orderRepo:       orderRepo,
		outboxRepo:      outboxRepo,
		userRepo:        userRepo,
		orderService:    orderService,
		outboxProcessor: outboxProcessor,
		kafkaProducer:   kafkaProducer,
		rateLimiter:     rateLimiter,
	}

	server.setupRoutes()
	outboxProcessor.Start()

	return server, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the outbox processor, closes the producer and the
// database, then drains in-flight HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.outboxProcessor.Stop()
	s.rateLimiter.Stop()

	if s.kafkaProducer != nil {
		if err := s.kafkaProducer.Close(); err != nil {
			s.logger.Error("Error closing Kafka producer", "error", err)
		}
	}

	if err := s.db.Close(); err != nil {
		s.logger.Error("Error closing database connection", "error", err)
	}

	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all the routes for our API
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.rateLimiter.Middleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)

	// Everything under /orders requires an authenticated principal.
	orders := api.PathPrefix("/orders").Subrouter()
	orders.Use(auth.Middleware([]byte(s.config.Auth.JWTSecret), s.logger))

	orders.HandleFunc("", s.getOrdersHandler).Methods(http.MethodGet)
	orders.HandleFunc("", s.createOrderHandler).Methods(http.MethodPost)
	orders.HandleFunc("/{id:[0-9]+}", s.getOrderByIDHandler).Methods(http.MethodGet)
	orders.HandleFunc("/{id:[0-9]+}", s.deleteOrderHandler).Methods(http.MethodDelete)
	orders.HandleFunc("/{id:[0-9]+}/status", s.updateOrderStatusHandler).Methods(http.MethodPatch)
	orders.HandleFunc("/{id:[0-9]+}/assignee", s.updateOrderAssigneeHandler).Methods(http.MethodPut)
	orders.HandleFunc("/{id:[0-9]+}/claim", s.claimOrderHandler).Methods(http.MethodPost)
	orders.HandleFunc("/{id:[0-9]+}/exists", s.orderExistsHandler).Methods(http.MethodGet)
}

// Middleware for logging requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Info("Request processed",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
			"remoteAddr", r.RemoteAddr,
		)
	})
}
