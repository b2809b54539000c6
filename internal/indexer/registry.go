package indexer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Registry owns the registered indices and runs lifecycle operations on
// them. Register is meant for startup; the set is read-only afterwards.
type Registry struct {
	order  []Index
	byName map[string]Index

	progress ProgressLogger
	logger   *slog.Logger
	workers  int
	limiter  *rate.Limiter
	observe  Observer
}

// Observer receives the outcome of each per-index populate run.
type Observer func(index, op string, start time.Time, err error)

// Option configures a Registry.
type Option func(*Registry)

// WithProgress sets the progress logger.
func WithProgress(p ProgressLogger) Option {
	return func(r *Registry) {
		if p != nil {
			r.progress = p
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithWorkers sets how many documents populate indexes concurrently.
// Values below 2 keep populate sequential.
func WithWorkers(n int) Option {
	return func(r *Registry) { r.workers = n }
}

// WithRateLimit throttles populate to the limiter's rate.
func WithRateLimit(l *rate.Limiter) Option {
	return func(r *Registry) { r.limiter = l }
}

// WithObserver reports every populate run with its final error.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observe = o }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		byName:   make(map[string]Index),
		progress: nopProgress{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		workers:  1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds idx. If an index with the same name is already registered
// the call is a no-op and returns false.
func (r *Registry) Register(idx Index) bool {
	name := idx.Name()
	if _, ok := r.byName[name]; ok {
		r.logger.Debug("Index already registered, ignoring", "index", name)
		return false
	}
	r.byName[name] = idx
	r.order = append(r.order, idx)
	r.logger.Debug("Registered index", "index", name, "type", idx.Type())
	return true
}

// Indexes resolves name to the matching index, or returns every index in
// registration order when name is empty.
func (r *Registry) Indexes(name string) ([]Index, error) {
	if name != "" {
		idx, ok := r.byName[name]
		if !ok {
			return nil, &Error{Kind: KindNotRegistered, Index: name}
		}
		return []Index{idx}, nil
	}
	if len(r.order) == 0 {
		return nil, &Error{Kind: KindEmptyRegistry}
	}
	return append([]Index(nil), r.order...), nil
}

// Create creates the named index, or all of them. With skipExists an
// existing index is left alone.
func (r *Registry) Create(ctx context.Context, name string, skipExists bool) error {
	return r.each(ctx, name, "create", "Creating index: ", func(idx Index) error {
		err := idx.Create(ctx)
		if skipExists && errors.Is(err, ErrAlreadyExists) {
			r.logger.Debug("Index already exists, skipping", "index", idx.Name())
			return nil
		}
		return err
	})
}

// Destroy deletes the named index, or all of them. With skipMissing an
// absent index is not an error.
func (r *Registry) Destroy(ctx context.Context, name string, skipMissing bool) error {
	return r.each(ctx, name, "destroy", "Destroying index: ", func(idx Index) error {
		err := idx.Destroy(ctx)
		if skipMissing && errors.Is(err, ErrDoesNotExist) {
			r.logger.Debug("Index does not exist, skipping", "index", idx.Name())
			return nil
		}
		return err
	})
}

// Upgrade puts the current mappings on the named index, or all of them.
func (r *Registry) Upgrade(ctx context.Context, name string, skipMissing bool) error {
	return r.each(ctx, name, "upgrade", "Upgrade index: ", func(idx Index) error {
		err := idx.Upgrade(ctx)
		if skipMissing && errors.Is(err, ErrDoesNotExist) {
			r.logger.Debug("Index does not exist, skipping", "index", idx.Name())
			return nil
		}
		return err
	})
}

func (r *Registry) each(ctx context.Context, name, op, message string, fn func(Index) error) error {
	idxs, err := r.Indexes(name)
	if err != nil {
		return err
	}
	for _, idx := range idxs {
		if err := ctx.Err(); err != nil {
			return Wrap(idx.Name(), op, err)
		}
		r.progress.LogMessage(message + idx.Name())
		if err := fn(idx); err != nil {
			return Wrap(idx.Name(), op, err)
		}
	}
	return nil
}

// Populate indexes every document of the named index, or of all indices.
// With skipMissing an absent index is skipped instead of failing.
func (r *Registry) Populate(ctx context.Context, name string, skipMissing bool) error {
	idxs, err := r.Indexes(name)
	if err != nil {
		return err
	}
	for _, idx := range idxs {
		exists, err := idx.Exists(ctx)
		if err != nil {
			return Wrap(idx.Name(), "populate", err)
		}
		if !exists {
			if skipMissing {
				r.logger.Debug("Index does not exist, skipping populate", "index", idx.Name())
				continue
			}
			return &Error{Kind: KindDoesNotExist, Index: idx.Name(), Op: "populate"}
		}
		r.progress.LogMessage("Indexing documents for index: " + idx.Name())
		start := time.Now()
		err = r.populate(ctx, idx)
		if r.observe != nil {
			r.observe(idx.Name(), "populate", start, err)
		}
		if err != nil {
			return Wrap(idx.Name(), "populate", err)
		}
	}
	return nil
}

func (r *Registry) populate(ctx context.Context, idx Index) error {
	total, err := idx.DocumentCount(ctx)
	if err != nil {
		return err
	}
	r.logger.Info("Populating index", "index", idx.Name(), "documents", total, "workers", r.workers)
	if r.workers > 1 {
		return r.populateConcurrent(ctx, idx, total)
	}

	step := 0
	for raw, err := range idx.DocumentIDs(ctx) {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		id, err := r.documentID(idx, raw)
		if err != nil {
			return err
		}
		if err := r.wait(ctx); err != nil {
			return err
		}
		if err := idx.AddByID(ctx, id); err != nil {
			return err
		}
		step++
		r.progress.LogProgress(total, step)
	}
	return nil
}

// populateConcurrent stops dispatching on the first failure, lets documents
// already in flight finish and returns that failure.
func (r *Registry) populateConcurrent(ctx context.Context, idx Index, total int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	var (
		mu   sync.Mutex
		done int
	)
	var dispatchErr error
	for raw, err := range idx.DocumentIDs(ctx) {
		if err != nil {
			dispatchErr = err
			break
		}
		if gctx.Err() != nil {
			break
		}
		id, err := r.documentID(idx, raw)
		if err != nil {
			dispatchErr = err
			break
		}
		if err := r.wait(gctx); err != nil {
			if gctx.Err() == nil {
				dispatchErr = err
			}
			break
		}
		g.Go(func() error {
			// in-flight documents run on the parent context
			if err := idx.AddByID(ctx, id); err != nil {
				return err
			}
			mu.Lock()
			done++
			r.progress.LogProgress(total, done)
			mu.Unlock()
			return nil
		})
	}

	werr := g.Wait()
	if werr != nil {
		return werr
	}
	if dispatchErr != nil {
		return dispatchErr
	}
	return ctx.Err()
}

func (r *Registry) documentID(idx Index, raw any) (int64, error) {
	id, err := DocumentID(raw)
	if err != nil {
		return 0, &Error{Kind: KindInvalidDocumentID, Index: idx.Name(), Op: "populate", Detail: raw, Err: err}
	}
	return id, nil
}

func (r *Registry) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

// Rebuild destroys, creates and populates the named index, or all of them.
// There is no rollback: a failed create leaves the index absent.
func (r *Registry) Rebuild(ctx context.Context, name string, skipExists, skipNotExists bool) error {
	if err := r.Destroy(ctx, name, skipNotExists); err != nil {
		return err
	}
	if err := r.Create(ctx, name, skipExists); err != nil {
		return err
	}
	return r.Populate(ctx, name, skipNotExists)
}

// Verify returns the names of the named index, or of all indices, that do
// not exist in the engine.
func (r *Registry) Verify(ctx context.Context, name string) ([]string, error) {
	idxs, err := r.Indexes(name)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, idx := range idxs {
		exists, err := idx.Exists(ctx)
		if err != nil {
			return nil, Wrap(idx.Name(), "verify", err)
		}
		if !exists {
			missing = append(missing, idx.Name())
		}
	}
	return missing, nil
}

// Index adds doc to the first registered index that accepts it.
func (r *Registry) Index(ctx context.Context, doc any) error {
	idx, err := r.route(doc)
	if err != nil {
		return err
	}
	exists, err := idx.Exists(ctx)
	if err != nil {
		return Wrap(idx.Name(), "index", err)
	}
	if !exists {
		return &Error{Kind: KindIndexNotInitialized, Index: idx.Name(), Op: "index"}
	}
	return Wrap(idx.Name(), "index", idx.Add(ctx, doc))
}

// Remove deletes doc from the first registered index that accepts it.
func (r *Registry) Remove(ctx context.Context, doc any) error {
	idx, err := r.route(doc)
	if err != nil {
		return err
	}
	return Wrap(idx.Name(), "remove", idx.Remove(ctx, doc))
}

func (r *Registry) route(doc any) (Index, error) {
	for _, idx := range r.order {
		if idx.Accepts(doc) {
			return idx, nil
		}
	}
	return nil, &Error{Kind: KindNoIndexForDocument, Op: "route"}
}
