package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Options tunes the service. Zero values fall back to defaults.
type Options struct {
	// MaxRetries is how many times item creation is retried after losing a
	// race on the (project, code) unique constraint.
	MaxRetries   int
	RetryBackoff time.Duration

	ImportTimeout       time.Duration
	MaxImportRows       int
	MaxConcurrentImport int
	ImportMaxWait       time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 20 * time.Millisecond
	}
	if o.ImportTimeout <= 0 {
		o.ImportTimeout = 2 * time.Minute
	}
	if o.MaxImportRows <= 0 {
		o.MaxImportRows = 10000
	}
	return o
}

// Recorder receives operational counters. internal/metrics implements it.
type Recorder interface {
	CodeAllocated(kind string)
	AllocationRetried()
	AllocationFailed(reason string)
	ImportRows(outcome string, n int)
	ImportCommitted(status string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) CodeAllocated(string) {}
func (nopRecorder) AllocationRetried() {}
func (nopRecorder) AllocationFailed(string) {}
func (nopRecorder) ImportRows(string, int) {}
func (nopRecorder) ImportCommitted(string, time.Duration) {}

// Service is the entry point for item creation, import and export.
type Service struct {
	store      Store
	reconciler *Reconciler
	limiter    *ImportLimiter
	rec        Recorder
	opts       Options
}

// NewService wires a Service over store. rec may be nil.
func NewService(store Store, opts Options, rec Recorder) *Service {
	opts = opts.withDefaults()
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Service{
		store:      store,
		reconciler: NewReconciler(store),
		limiter:    NewImportLimiter(opts.MaxConcurrentImport, opts.ImportMaxWait),
		rec:        rec,
		opts:       opts,
	}
}

// Limiter exposes the import limiter for status reporting and shutdown.
func (s *Service) Limiter() *ImportLimiter { return s.limiter }

// Ping checks storage connectivity.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// CreateProject creates an empty project.
func (s *Service) CreateProject(ctx context.Context, name string) (Project, error) {
	if name == "" {
		return Project{}, &InputError{Fields: []ValidationError{{Field: "name", Message: "required field is empty"}}}
	}
	var p Project
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		p, err = tx.CreateProject(ctx, name)
		return err
	})
	return p, err
}

// GetProject returns the project or ErrProjectNotFound.
func (s *Service) GetProject(ctx context.Context, id uuid.UUID) (Project, error) {
	var p Project
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		p, err = tx.GetProject(ctx, id)
		return err
	})
	return p, err
}

// ListProjects returns all projects ordered by name.
func (s *Service) ListProjects(ctx context.Context) ([]Project, error) {
	var out []Project
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListProjects(ctx)
		return err
	})
	return out, err
}
