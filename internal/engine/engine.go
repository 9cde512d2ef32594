// Package engine serves rows of dynamic tables: view queries with computed
// fields, group options for grouped layouts, and single-row writes.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dyntables/internal/apperr"
	"dyntables/internal/computed"
	"dyntables/internal/filter"
	"dyntables/internal/logger"
	"dyntables/internal/metadata"
	"dyntables/internal/store"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type Engine struct {
	store        *store.Store
	repo         *metadata.Repository
	compiler     *filter.Compiler
	fetcher      computed.Fetcher
	rules        *ruleCache
	mode         computed.Mode
	defaultLimit int
	maxLimit     int
	logger       *slog.Logger
	now          func() time.Time
}

type Option func(*Engine)

// WithBatchLoading switches relation and lookup resolution to batched loads.
func WithBatchLoading(on bool) Option {
	return func(e *Engine) {
		e.mode = computed.Sequential
		if on {
			e.mode = computed.Batched
		}
	}
}

// WithLimits sets the page size used when none is given and the largest
// page size accepted. Non-positive values keep the defaults.
func WithLimits(def, max int) Option {
	return func(e *Engine) {
		if def > 0 {
			e.defaultLimit = def
		}
		if max > 0 {
			e.maxLimit = max
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:        s,
		repo:         metadata.NewRepository(s.DB, s.Dialect),
		compiler:     filter.NewCompiler(s.Dialect),
		fetcher:      computed.NewSQLFetcher(s.DB, s.Dialect),
		rules:        newRuleCache(),
		mode:         computed.Sequential,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		now:          time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = logger.Get()
	}
	if e.defaultLimit > e.maxLimit {
		e.defaultLimit = e.maxLimit
	}
	return e
}

// scope is the request-scoped metadata view of one caller.
type scope struct {
	tenantID string
	catalog  *metadata.Catalog
	pipeline *computed.Pipeline
}

func (e *Engine) scope(ctx context.Context) (*scope, error) {
	tenantID, err := metadata.TenantFrom(ctx)
	if err != nil {
		return nil, apperr.Unauthorized("missing tenant")
	}
	cat := metadata.NewCatalog(e.repo, tenantID)
	return &scope{
		tenantID: tenantID,
		catalog:  cat,
		pipeline: computed.NewPipeline(cat, e.fetcher,
			computed.WithMode(e.mode), computed.WithLogger(e.logger), computed.WithClock(e.now)),
	}, nil
}

// table loads a table of the caller's tenant with its columns.
func (sc *scope) table(ctx context.Context, tableID string) (*metadata.Table, []*metadata.Column, error) {
	if err := checkID("Table", tableID); err != nil {
		return nil, nil, err
	}
	t, err := sc.catalog.Table(ctx, tableID)
	if err != nil {
		return nil, nil, lookupErr("Table", tableID, err)
	}
	cols, err := sc.catalog.Columns(ctx, t.ID)
	if err != nil {
		return nil, nil, lookupErr("Table", tableID, err)
	}
	return t, cols, nil
}

// view loads a view whose table belongs to the caller's tenant.
func (e *Engine) view(ctx context.Context, sc *scope, viewID string) (*metadata.View, *metadata.Table, []*metadata.Column, error) {
	if err := checkID("View", viewID); err != nil {
		return nil, nil, nil, err
	}
	v, err := e.repo.GetView(ctx, viewID)
	if err != nil {
		return nil, nil, nil, lookupErr("View", viewID, err)
	}
	t, cols, err := sc.table(ctx, v.TableID)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return nil, nil, nil, apperr.NotFound("View", viewID)
		}
		return nil, nil, nil, err
	}
	return v, t, cols, nil
}

func lookupErr(kind, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(kind, id)
	}
	return apperr.Storage("load "+kind, err)
}

// checkID rejects ids that cannot name a stored record. Postgres would fail
// the UUID cast instead of reporting a missing row.
func checkID(kind, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperr.NotFound(kind, id)
	}
	return nil
}
