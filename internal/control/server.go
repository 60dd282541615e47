// Package control exposes the operator API the dashboard talks to. It is a
// thin surface: every endpoint triggers the same operations a scheduler
// would, and responses carry aggregate counts and human-readable messages
// only.
package control

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/retailgrid/sales-sync/internal/broker"
	"github.com/retailgrid/sales-sync/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ConsumerControl is the lifecycle slice of the head-office consumer.
type ConsumerControl interface {
	Start(ctx context.Context) error
	Stop()
	State() broker.State
}

// Syncer is the coordinator surface the handlers drive.
type Syncer interface {
	Branches() []string
	CheckForChanges(ctx context.Context) (map[string]bool, error)
	SyncBranch(ctx context.Context, branch string) (int, error)
	SyncAll(ctx context.Context) (map[string]int, error)
	StartAutoSync(interval time.Duration) error
	StopAutoSync() error
	AutoSyncRunning() bool
}

// SaleCreator adds a record to a branch store and replicates it.
type SaleCreator interface {
	AddAndSync(ctx context.Context, rec models.SaleRecord) error
}

// BranchReader serves the read-only branch view.
type BranchReader interface {
	ReadAll(ctx context.Context) ([]models.SaleRecord, error)
}

// HeadOfficeReader serves the read-only consolidated view.
type HeadOfficeReader interface {
	ReadAll(ctx context.Context) ([]models.HeadOfficeRecord, error)
}

type Server struct {
	consumer        ConsumerControl
	syncer          Syncer
	creators        map[string]SaleCreator
	branchReaders   map[string]BranchReader
	headOffice      HeadOfficeReader
	defaultInterval time.Duration
	logger          *slog.Logger
}

func NewServer(
	consumer ConsumerControl,
	syncer Syncer,
	creators map[string]SaleCreator,
	branchReaders map[string]BranchReader,
	headOffice HeadOfficeReader,
	defaultInterval time.Duration,
	logger *slog.Logger,
) *Server {
	return &Server{
		consumer:        consumer,
		syncer:          syncer,
		creators:        creators,
		branchReaders:   branchReaders,
		headOffice:      headOffice,
		defaultInterval: defaultInterval,
		logger:          logger,
	}
}

// Router assembles the control API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/consumer/start", s.startConsumer)
	r.Post("/consumer/stop", s.stopConsumer)
	r.Get("/consumer/status", s.consumerStatus)

	r.Get("/changes", s.checkForChanges)
	r.Post("/sync", s.syncAll)
	r.Post("/sync/{branch}", s.syncBranch)

	r.Post("/autosync/start", s.startAutoSync)
	r.Post("/autosync/stop", s.stopAutoSync)

	r.Post("/branches/{branch}/sales", s.addSale)
	r.Get("/branches/{branch}/sales", s.branchSales)
	r.Get("/headoffice/sales", s.headOfficeSales)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// ListenAndServe runs the control server until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Control surface online", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
