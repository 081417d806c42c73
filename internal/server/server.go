package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/georep/georep/internal/config"
	"github.com/georep/georep/internal/middleware"
	"github.com/georep/georep/internal/replication"
)

// Server hosts the replication coordinator API
type Server struct {
	config     *config.Config
	httpServer *http.Server
	db         *sql.DB
	engine     *replication.Engine
	startTime  time.Time
}

// New creates a coordinator server. The engine's database lives under the
// configured data directory.
func New(cfg *config.Config) (*Server, error) {
	dbPath := filepath.Join(cfg.DataDir, "georep.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	collectionTimeout := time.Duration(cfg.Monitor.CollectionTimeout) * time.Second
	engineConfig := replication.EngineConfig{
		MonitorInterval:   time.Duration(cfg.Monitor.IntervalSec) * time.Second,
		CollectionTimeout: collectionTimeout,
		StalenessWindow:   time.Duration(cfg.Monitor.StalenessWindowSec) * time.Second,
		HistoryLimit:      cfg.Monitor.HistoryLimit,
		FailoverRTO:       time.Duration(cfg.Failover.RTOMs) * time.Millisecond,
		SnapshotRetention: time.Duration(cfg.Snapshot.RetentionDays) * 24 * time.Hour,
		ConsistencyLag:    time.Duration(cfg.Snapshot.ConsistencyLagMs) * time.Millisecond,
	}

	engine, err := replication.NewEngine(
		db,
		engineConfig,
		replication.NewHTTPTelemetrySource(collectionTimeout),
		replication.NewHTTPDDLApplier(30*time.Second),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create replication engine: %w", err)
	}

	if cfg.Archive.Enable {
		engine.SetSnapshotUploader(replication.NewS3SnapshotUploader(
			cfg.Archive.Endpoint,
			cfg.Archive.Region,
			cfg.Archive.Bucket,
			cfg.Archive.AccessKey,
			cfg.Archive.SecretKey,
		))
	}

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	server := &Server{
		config:     cfg,
		httpServer: httpServer,
		db:         db,
		engine:     engine,
		startTime:  time.Now(),
	}

	server.setupRoutes()

	return server, nil
}

// Engine exposes the replication engine (tests and embedding callers)
func (s *Server) Engine() *replication.Engine {
	return s.engine
}

// Start runs the HTTP server until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"address":  s.config.Listen,
		"data_dir": s.config.DataDir,
	}).Info("Starting replication coordinator")

	go func() {
		if err := s.listen(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("HTTP server error")
		}
	}()

	<-ctx.Done()

	return s.shutdown()
}

func (s *Server) listen() error {
	if s.config.EnableTLS {
		return s.httpServer.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) shutdown() error {
	logrus.Info("Shutting down replication coordinator")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Failed to shutdown HTTP server")
	}

	s.engine.Close()

	if err := s.db.Close(); err != nil {
		logrus.WithError(err).Error("Failed to close database")
	}

	return nil
}

func (s *Server) setupRoutes() {
	router := mux.NewRouter()

	router.Use(middleware.Logging())
	router.Use(middleware.CORS())

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.config.Metrics.Enable {
		router.Handle(s.config.Metrics.Path, s.engine.MetricsHandler()).Methods("GET")
	}

	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/system", s.handleSystemInfo).Methods("GET")

	api.HandleFunc("/regions", s.handleRegisterRegion).Methods("POST")
	api.HandleFunc("/regions", s.handleListRegions).Methods("GET")
	api.HandleFunc("/regions/{id}", s.handleGetRegion).Methods("GET")

	api.HandleFunc("/groups", s.handleCreateGroup).Methods("POST")
	api.HandleFunc("/groups", s.handleListGroups).Methods("GET")
	api.HandleFunc("/groups/{id}", s.handleGetGroup).Methods("GET")
	api.HandleFunc("/groups/{id}", s.handleUpdateGroup).Methods("PATCH")
	api.HandleFunc("/groups/{id}", s.handleDeleteGroup).Methods("DELETE")

	api.HandleFunc("/groups/{id}/metrics", s.handleGroupMetrics).Methods("GET")
	api.HandleFunc("/groups/{id}/health", s.handleGroupHealth).Methods("GET")
	api.HandleFunc("/groups/{id}/stop-monitoring", s.handleStopMonitoring).Methods("POST")

	api.HandleFunc("/groups/{id}/failover", s.handleTriggerFailover).Methods("POST")
	api.HandleFunc("/groups/{id}/failovers", s.handleFailoverHistory).Methods("GET")

	api.HandleFunc("/groups/{id}/conflicts", s.handleRecordConflict).Methods("POST")
	api.HandleFunc("/groups/{id}/conflicts", s.handleListConflicts).Methods("GET")

	api.HandleFunc("/groups/{id}/schema-changes", s.handlePropagateSchemaChange).Methods("POST")
	api.HandleFunc("/groups/{id}/schema-changes", s.handleListSchemaChanges).Methods("GET")

	api.HandleFunc("/groups/{id}/snapshots", s.handleCreateSnapshot).Methods("POST")
	api.HandleFunc("/groups/{id}/snapshots", s.handleListSnapshots).Methods("GET")
	api.HandleFunc("/snapshots/{id}", s.handleGetSnapshot).Methods("GET")
	api.HandleFunc("/snapshots/{id}/archive", s.handleArchiveSnapshot).Methods("POST")

	s.httpServer.Handler = handlers.RecoveryHandler()(router)
}
