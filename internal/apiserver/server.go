// Package apiserver hosts the HTTP API and the metrics endpoint.
package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/corestructure/remote-ocr/internal/auth"
	"github.com/corestructure/remote-ocr/internal/config"
	"github.com/corestructure/remote-ocr/internal/events"
	"github.com/corestructure/remote-ocr/internal/handlers"
	"github.com/corestructure/remote-ocr/internal/objstore"
	"github.com/corestructure/remote-ocr/internal/queue"
	"github.com/corestructure/remote-ocr/internal/service"
	"github.com/corestructure/remote-ocr/internal/store"
	"github.com/corestructure/remote-ocr/pkg/metrics"
	"github.com/corestructure/remote-ocr/pkg/middleware"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

type Server struct {
	cfg      *config.Config
	store    store.Store
	objects  objstore.Store
	broker   queue.Broker
	listener net.Listener
}

// New returns a new instance of the remote OCR API server.
func New(
	cfg *config.Config,
	st store.Store,
	objects objstore.Store,
	broker queue.Broker,
	listener net.Listener,
) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		objects:  objects,
		broker:   broker,
		listener: listener,
	}
}

func (s *Server) Run(ctx context.Context) error {
	zap.S().Named("api_server").Info("Initializing API server")

	authenticator := auth.NewAuthenticator(s.cfg.Service.APIKey)

	router := chi.NewRouter()

	metricMiddleware := metrics.NewMiddleware("api_server")
	metricMiddleware.MustRegisterDefault()
	prometheus.MustRegister(metrics.NewJobStatsCollector(s.store))

	router.Use(
		metricMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "PUT", "POST", "DELETE", "PATCH", "HEAD", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}),
		authenticator.Authenticator,
		middleware.RequestID,
		middleware.Logger(),
		chiMiddleware.Recoverer,
	)

	eventWriter := events.NewEventProducer(&events.StdoutWriter{})
	defer func() {
		_ = eventWriter.Close()
	}()

	h := handlers.New(
		service.NewJobService(s.store, s.objects, s.broker, eventWriter, s.cfg),
		service.NewStorageService(s.objects, s.store),
		service.NewTreeService(s.store),
	)
	h.Register(router)

	srv := http.Server{Addr: s.cfg.Service.Address, Handler: router}

	go func() {
		<-ctx.Done()
		zap.S().Named("api_server").Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		zap.S().Named("api_server").Info("api server terminated")
	}()

	zap.S().Named("api_server").Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}
