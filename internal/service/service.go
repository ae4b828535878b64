// Package service assembles indexkeeper from configuration: the index
// store, content-type registry and per-principal manager, the identity
// directory with its search index, and the change bus that keeps directory
// replicas of several processes in step. Service implements daemon.Handler.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/indexkeeper/internal/bus"
	"github.com/Aman-CERP/indexkeeper/internal/config"
	"github.com/Aman-CERP/indexkeeper/internal/daemon"
	"github.com/Aman-CERP/indexkeeper/internal/directory"
	"github.com/Aman-CERP/indexkeeper/internal/errors"
	"github.com/Aman-CERP/indexkeeper/internal/identity"
	"github.com/Aman-CERP/indexkeeper/internal/index"
	"github.com/Aman-CERP/indexkeeper/internal/indexable"
	"github.com/Aman-CERP/indexkeeper/internal/search"
	"github.com/Aman-CERP/indexkeeper/internal/store"
	"github.com/Aman-CERP/indexkeeper/internal/telemetry"
)

// listenerRetryDelay is the pause before resubscribing after the bus drops.
const listenerRetryDelay = time.Second

// Option customizes a Service.
type Option func(*Service)

// WithHub attaches memory transports to hub, so services in one process
// share a bus.
func WithHub(hub *bus.Hub) Option {
	return func(s *Service) { s.hub = hub }
}

// WithCompaction enables idle segment merging.
func WithCompaction(idle, cooldown time.Duration) Option {
	return func(s *Service) {
		s.compactIdle = idle
		s.compactCooldown = cooldown
	}
}

// Service owns every long-lived component.
type Service struct {
	cfg *config.Config
	hub *bus.Hub

	compactIdle     time.Duration
	compactCooldown time.Duration

	store      *store.Store
	manager    *index.Manager
	identities *identity.SQLiteStore
	transport  bus.Transport
	publisher  *bus.Publisher
	directory  *directory.Index
	listener   *bus.Listener
	compactor  *daemon.Compactor
	queries    *telemetry.QueryMetrics

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ daemon.Handler = (*Service)(nil)

// New builds a service from cfg. Nothing is listening until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	s := &Service{cfg: cfg, queries: telemetry.New(telemetry.DefaultConfig())}
	for _, opt := range opts {
		opt(s)
	}

	registry, err := indexable.FromSpecs(cfg.Types)
	if err != nil {
		return nil, errors.ConfigError("invalid content types", err)
	}

	s.store, err = store.New(store.Options{
		Root: cfg.Store.Root,
		Writer: store.WriterOptions{
			MaxIters: cfg.Store.MaxIters,
			MinDelay: cfg.Store.MinDelay,
			MaxDelay: cfg.Store.MaxDelay,
		},
		Commit: store.CommitOptions{Optimize: cfg.Store.Optimize},
	})
	if err != nil {
		return nil, err
	}

	s.manager = index.NewManager(s.store, registry, index.Options{
		CacheCapacity:  cfg.Cache.Capacity,
		QueryCacheSize: cfg.Cache.QueryCacheSize,
		Concurrency:    cfg.Cache.Concurrency,
	})

	s.identities, err = identity.OpenSQLite(cfg.DatabasePath())
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	busCfg := bus.Config{Transport: cfg.Bus.Transport, URL: cfg.Bus.URL, Topic: cfg.Bus.Topic}
	s.transport, err = bus.Dial(ctx, busCfg, s.hub)
	if err != nil {
		_ = s.Close()
		return nil, errors.New(errors.ErrCodeBusUnavailable, "failed to connect bus", err).
			WithDetail("transport", cfg.Bus.Transport)
	}

	origin := bus.NewOrigin()
	s.publisher = bus.NewPublisher(s.transport, cfg.Bus.Topic, origin)
	s.directory = directory.New(s.store, s.identities, s.publisher, directory.Options{
		IndexName:   cfg.Directory.IndexName,
		LockTimeout: cfg.Directory.LockTimeout,
		LockPoll:    cfg.Directory.LockPoll,
		MaxHits:     cfg.Directory.MaxHits,
	})
	s.listener = bus.NewListener(s.transport, s.identities, s.directory, bus.ListenerOptions{
		Topic:           cfg.Bus.Topic,
		Origin:          origin,
		ResolveAttempts: cfg.Bus.ResolveAttempts,
		ResolveDelay:    cfg.Bus.ResolveDelay,
	})

	slog.Info("service_created",
		slog.String("store_root", cfg.Store.Root),
		slog.String("database", cfg.DatabasePath()),
		slog.String("transport", cfg.Bus.Transport),
		slog.String("origin", origin),
		slog.Int("types", len(registry.Names())))
	return s, nil
}

// Start runs the bus listener and the compactor until Close.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.compactor = daemon.NewCompactor(ctx, s.compactIdle, s.compactCooldown, s.optimize)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.listen(ctx)
	}()
}

// listen keeps the listener subscribed, resubscribing after bus failures.
func (s *Service) listen(ctx context.Context) {
	for {
		err := s.listener.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("directory_listener_stopped", errors.LogAttrs(err)...)
		select {
		case <-ctx.Done():
			return
		case <-time.After(listenerRetryDelay):
		}
	}
}

func (s *Service) optimize(ctx context.Context, principal, typeName string) error {
	_, err := s.manager.For(principal).Optimize(ctx, typeName)
	return err
}

// Manager returns the per-principal index manager.
func (s *Service) Manager() *index.Manager { return s.manager }

// Directory returns the directory search index.
func (s *Service) Directory() *directory.Index { return s.directory }

// Identities returns the identity store.
func (s *Service) Identities() *identity.SQLiteStore { return s.identities }

// Listener returns the bus listener.
func (s *Service) Listener() *bus.Listener { return s.listener }

// Search runs a search for p.Principal.
func (s *Service) Search(ctx context.Context, p daemon.SearchParams) (*search.Result, error) {
	principal := s.manager.For(p.Principal)
	start := time.Now()
	var res *search.Result
	var err error
	kind := telemetry.KindSearch
	switch p.Mode {
	case daemon.ModeNgram:
		kind = telemetry.KindNgram
		res, err = principal.NgramSearch(ctx, p.Query, p.Options)
	case daemon.ModeSuggestAndSearch:
		kind = telemetry.KindSuggestAndSearch
		res, err = principal.SuggestAndSearch(ctx, p.Query, p.Options)
	default:
		res, err = principal.Search(ctx, p.Query, p.Options)
	}
	return s.record(kind, p.Query, start, res, err)
}

// Suggest completes the last word of p.Query.
func (s *Service) Suggest(ctx context.Context, p daemon.SearchParams) (*search.Result, error) {
	start := time.Now()
	res, err := s.manager.For(p.Principal).Suggest(ctx, p.Query, p.Options)
	return s.record(telemetry.KindSuggest, p.Query, start, res, err)
}

// record passes res and err through after adding them to the query metrics.
func (s *Service) record(kind telemetry.QueryKind, query string, start time.Time, res *search.Result, err error) (*search.Result, error) {
	e := telemetry.QueryEvent{Query: query, Kind: kind, Latency: time.Since(start), Failed: err != nil}
	if res != nil {
		e.ResultCount = int(res.Total) + len(res.Suggestions)
	}
	s.queries.Record(e)
	return res, err
}

// Index adds or replaces a document.
func (s *Service) Index(ctx context.Context, p daemon.IndexParams) (daemon.MutationResult, error) {
	doc := indexable.Document{ID: p.ID, Type: p.Type, Fields: p.Fields}
	principal := s.manager.For(p.Principal)

	var applied bool
	var err error
	if p.Update {
		applied, err = principal.UpdateContent(ctx, doc, p.Type)
	} else {
		applied, err = principal.IndexContent(ctx, doc, p.Type)
	}
	if applied {
		s.compactor.OnWrite(p.Principal, p.Type)
	}
	return daemon.MutationResult{Applied: applied}, err
}

// Delete removes a document.
func (s *Service) Delete(ctx context.Context, p daemon.DeleteParams) (daemon.MutationResult, error) {
	doc := indexable.Document{ID: p.ID, Type: p.Type}
	applied, err := s.manager.For(p.Principal).DeleteContent(ctx, doc, p.Type)
	if applied {
		s.compactor.OnWrite(p.Principal, p.Type)
	}
	return daemon.MutationResult{Applied: applied}, err
}

// DirectoryQuery searches the identity directory.
func (s *Service) DirectoryQuery(ctx context.Context, p daemon.DirectoryQueryParams) ([]identity.Identity, error) {
	return s.directory.Query(ctx, p.Term, p.RestrictTo, nil)
}

// DirectoryChanged applies a change already made to the identity store
// and broadcasts it.
func (s *Service) DirectoryChanged(ctx context.Context, p daemon.DirectoryChangedParams) error {
	op, err := p.ParseOp()
	if err != nil {
		return errors.ValidationError(err.Error(), nil)
	}
	switch op {
	case bus.OpCreated:
		return s.directory.OnCreated(ctx, p.Subject)
	case bus.OpModified:
		return s.directory.OnModified(ctx, p.Subject)
	default:
		id, err := strconv.ParseInt(strings.TrimSpace(p.Subject), 10, 64)
		if err != nil {
			return errors.ValidationError(fmt.Sprintf("deleted subject %q is not an id", p.Subject), err)
		}
		return s.directory.OnDeleted(ctx, id)
	}
}

// Status reports component state.
func (s *Service) Status(ctx context.Context) daemon.StatusResult {
	st := daemon.StatusResult{
		Origin:         s.publisher.Origin(),
		Transport:      s.cfg.Bus.Transport,
		Types:          s.manager.Registry().Names(),
		DirectoryState: s.directory.State().String(),
		Cache:          s.manager.Stats(),
		Listener:       s.listener.Stats(),
		Compactions:    s.compactor.Runs(),
		Queries:        s.queries.Snapshot(),
	}
	if s.directory.State() == directory.Ready {
		if n, err := s.directory.DocCount(ctx); err == nil {
			st.DirectoryDocs = n
		}
	}
	return st
}

// Close stops background work and releases every component.
func (s *Service) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		s.compactor.Stop()

		if s.directory != nil {
			errs = append(errs, s.directory.Close())
		}
		if s.manager != nil {
			errs = append(errs, s.manager.Close())
		}
		if s.transport != nil {
			errs = append(errs, s.transport.Close())
		}
		if s.identities != nil {
			errs = append(errs, s.identities.Close())
		}
		if s.store != nil {
			errs = append(errs, s.store.Close())
		}
	})
	return errors.Join(errs...)
}
