// Package server provides the HTTP surface of HelaChat: the WhatsApp webhook,
// the admin API, health and metrics endpoints, and the live event stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/chamikara/helachat/internal/agent"
	"github.com/chamikara/helachat/internal/bus"
	"github.com/chamikara/helachat/internal/config"
	"github.com/chamikara/helachat/internal/data"
	"github.com/chamikara/helachat/internal/dispatch"
	"github.com/chamikara/helachat/internal/logging"
	"github.com/chamikara/helachat/internal/metrics"
	"github.com/chamikara/helachat/internal/sheets"
	"github.com/chamikara/helachat/internal/vector"
)

// MessageQueue is the dispatcher surface the server needs.
type MessageQueue interface {
	Enqueue(task dispatch.Task) error
	EnqueueRebuild(businessID int64) error
	QueueDepth() int
}

// Responder runs the pipeline synchronously (admin test endpoint).
type Responder interface {
	ProcessMessage(ctx context.Context, text string, businessID int64, senderPhone string) (*agent.Result, error)
}

// Store is the data-layer surface the handlers use.
type Store interface {
	GetBusiness(ctx context.Context, id int64) (*data.Business, error)
	GetBusinessByPhoneNumber(ctx context.Context, phone string) (*data.Business, error)
	CreateMessage(ctx context.Context, m *data.Message) (int64, error)
	RecentMessages(ctx context.Context, businessID int64, limit int) ([]*data.Message, error)
	ListSheetConnections(ctx context.Context, businessID int64, activeOnly bool) ([]*data.SheetConnection, error)
	UpdateSheetSyncStatus(ctx context.Context, id int64, rowCount, columnCount int, syncErr string) error
	Health() error
}

// SheetService is the sheets surface of the admin API: refreshing connected
// sheets and probing new sharing URLs before a connection is saved.
type SheetService interface {
	Refresh(ctx context.Context, conn sheets.Connection) (rows, cols int, err error)
	Preview(ctx context.Context, conn sheets.Connection, n int) (*sheets.QueryResult, error)
	TestConnection(ctx context.Context, rawURL string) error
}

// ProviderStatus describes the active LLM provider for the status endpoint.
type ProviderStatus interface {
	Name() string
	Available() bool
}

// Server hosts the HTTP API.
type Server struct {
	cfg       *config.Config
	store     Store
	queue     MessageQueue
	responder Responder
	provider  ProviderStatus
	sheets    SheetService
	index     *vector.Store
	observer  *bus.Observer
	collector *metrics.Collector

	httpServer *http.Server
	accessLog  zerolog.Logger
	log        *logging.Logger
	started    time.Time
}

// New wires the server from its collaborators. Observer and collector may be
// nil when the corresponding features are disabled.
func New(cfg *config.Config, store Store, queue MessageQueue, responder Responder,
	provider ProviderStatus, sheetSvc SheetService, index *vector.Store,
	observer *bus.Observer, collector *metrics.Collector) *Server {

	return &Server{
		cfg:       cfg,
		store:     store,
		queue:     queue,
		responder: responder,
		provider:  provider,
		sheets:    sheetSvc,
		index:     index,
		observer:  observer,
		collector: collector,
		accessLog: zerolog.New(os.Stdout).With().Timestamp().Str("component", "http").Logger(),
		log:       logging.Global().WithComponent("Server"),
		started:   time.Now(),
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/metrics", s.handleMetrics)

	r.Get("/webhook/whatsapp", s.handleWebhookVerify)
	r.Post("/webhook/whatsapp", s.handleWebhookPost)

	r.Route("/api/ai", func(r chi.Router) {
		r.Get("/agent-status", s.handleAgentStatus)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/test-message", s.handleTestMessage)
			r.Post("/reload-knowledge", s.handleReloadKnowledge)

			if s.sheets != nil {
				r.Post("/refresh-sheets", s.handleRefreshSheets)
				r.Post("/sheet-preview", s.handleSheetPreview)
				r.Post("/test-sheet", s.handleTestSheet)
			}
		})
	})

	r.Get("/api/businesses/{businessID}/messages", s.handleRecentMessages)

	if s.observer != nil && s.cfg.Observer.Enabled {
		r.Get("/events", s.observer.ServeHTTP)
	}

	return r
}

// Start listens on the configured address until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Router(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening on %s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains connections gracefully.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}

// requestLogger emits one structured access log line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.accessLog.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("request")
	})
}
