package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/beamline-core/internal/control"
)

// DefaultConnectTimeout bounds WaitConnected when Options.ConnectTimeout is zero.
const DefaultConnectTimeout = 10 * time.Second

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options describe how to create a resource the first time it is requested.
//
// Only PostCreate is honoured for a resource that already exists.
type Options struct {
	// Factory constructs the handle. Ignored when Simulated is set.
	Factory control.Factory

	// Address is appended to the registry prefix to form the full address.
	Address string

	// Absolute means Address is already complete and the registry prefix
	// is not applied. Resources outside the beamline, such as the
	// undulator or the storage ring, use this.
	Absolute bool

	// WaitForConnection blocks creation until the handle reports connected.
	WaitForConnection bool

	// ConnectTimeout bounds the wait. Zero means the registry default.
	ConnectTimeout time.Duration

	// PostCreate runs on the fresh handle, and again on every later request
	// that supplies it.
	PostCreate control.PostCreate

	// Simulated substitutes the registry's simulated factory. The choice is
	// fixed at first creation.
	Simulated bool
}

// Registry creates each named resource at most once and hands the same
// handle to every caller.
//
// Requests for the same name are collapsed so exactly one construction
// runs. Requests for different names proceed in parallel.
//
// All public methods are thread-safe.
type Registry struct {
	store      Store
	group      singleflight.Group
	prefix     string
	timeout    time.Duration
	simFactory control.Factory

	hooksMu sync.Mutex
	hooks   map[string]*sync.Mutex

	closedMu sync.RWMutex
	closed   bool

	logger Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore replaces the default MemoryStore.
func WithStore(s Store) Option {
	return func(r *Registry) { r.store = s }
}

// WithPrefix sets the address prefix, e.g. "BL03I".
func WithPrefix(prefix string) Option {
	return func(r *Registry) { r.prefix = prefix }
}

// WithConnectTimeout sets the default connection wait.
func WithConnectTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

// WithSimulatedFactory sets the factory used when Options.Simulated is true.
func WithSimulatedFactory(f control.Factory) Option {
	return func(r *Registry) { r.simFactory = f }
}

// New creates a Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		store:      NewMemoryStore(),
		timeout:    DefaultConnectTimeout,
		simFactory: control.Simulated(),
		hooks:      make(map[string]*sync.Mutex),
		logger:     noopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Prefix returns the address prefix applied to every new resource.
func (r *Registry) Prefix() string {
	return r.prefix
}

// GetOrCreate returns the handle registered under name, creating it with
// opts if none is ready.
//
// For a new resource the handle is built, optionally awaited, passed to
// PostCreate and only then stored as ready. A connection failure returns an
// error wrapping control.ErrConnection and leaves nothing usable behind, so a
// later call retries creation.
//
// For an existing resource everything except PostCreate is ignored.
// PostCreate runs on the existing handle, serialised with other hooks for
// the same name.
//
// Parameters:
//   - ctx: bounds how long this caller waits; creation itself is shared
//     and is not abandoned when one caller gives up
//   - name: registry key
//   - opts: creation options, used only if name has no ready handle
//
// Returns:
//   - control.Handle: the one handle for name
//   - error: wrapping control.ErrConnection, ErrPostCreate, ErrNoFactory,
//     ErrClosed, or ctx.Err() if the caller stopped waiting
func (r *Registry) GetOrCreate(ctx context.Context, name string, opts Options) (control.Handle, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}

	if rec, ok := r.store.Load(name); ok && rec.usable() {
		return r.applyHook(name, rec.Handle, opts.PostCreate)
	}

	// The shared creation must outlive any single caller, so it runs
	// detached from ctx and is bounded by the connect timeout instead.
	// Each caller still stops waiting when its own ctx ends.
	var created bool
	createCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(name, func() (any, error) {
		// Another caller may have finished between Load and DoChan.
		if rec, ok := r.store.Load(name); ok && rec.usable() {
			return rec.Handle, nil
		}
		created = true
		return r.create(createCtx, name, opts)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s: %w", name, ctx.Err())
	}
	if res.Err != nil {
		return nil, res.Err
	}

	h := res.Val.(control.Handle)
	if created {
		return h, nil
	}
	return r.applyHook(name, h, opts.PostCreate)
}

func (r *Registry) create(ctx context.Context, name string, opts Options) (control.Handle, error) {
	factory := opts.Factory
	if opts.Simulated {
		factory = r.simFactory
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoFactory, name)
	}

	address := r.prefix + opts.Address
	if opts.Absolute {
		address = opts.Address
	}
	rec := Record{
		Name:      name,
		Address:   address,
		State:     StateConnecting,
		Simulated: opts.Simulated,
		CreatedAt: time.Now().UTC(),
	}

	h, err := factory(name, address)
	if err != nil {
		r.fail(rec, nil, err)
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	rec.Handle = h
	r.store.Save(rec)

	r.logger.Debug("creating resource", "name", name, "address", address, "simulated", opts.Simulated)

	if opts.WaitForConnection {
		timeout := opts.ConnectTimeout
		if timeout <= 0 {
			timeout = r.timeout
		}
		if err := h.WaitConnected(ctx, timeout); err != nil {
			r.fail(rec, h, err)
			if !errors.Is(err, control.ErrConnection) {
				err = fmt.Errorf("%w: %s: %w", control.ErrConnection, address, err)
			}
			return nil, err
		}
	}

	if opts.PostCreate != nil {
		if err := opts.PostCreate(h); err != nil {
			r.fail(rec, h, err)
			return nil, fmt.Errorf("%w: %s: %w", ErrPostCreate, name, err)
		}
	}

	rec.State = StateReady
	r.store.Save(rec)
	r.logger.Info("resource ready", "name", name, "address", address)

	return h, nil
}

// fail records the failure and releases any partially created handle.
func (r *Registry) fail(rec Record, h control.Handle, cause error) {
	rec.State = StateFailed
	rec.Handle = nil
	rec.Err = cause
	r.store.Save(rec)

	r.logger.Warn("resource creation failed", "name", rec.Name, "address", rec.Address, "error", cause)

	if c, ok := h.(io.Closer); ok {
		if err := c.Close(); err != nil {
			r.logger.Warn("closing failed resource", "name", rec.Name, "error", err)
		}
	}
}

func (r *Registry) applyHook(name string, h control.Handle, hook control.PostCreate) (control.Handle, error) {
	if hook == nil {
		return h, nil
	}

	mu := r.hookLock(name)
	mu.Lock()
	defer mu.Unlock()

	if err := hook(h); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPostCreate, name, err)
	}
	return h, nil
}

func (r *Registry) hookLock(name string) *sync.Mutex {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	mu, ok := r.hooks[name]
	if !ok {
		mu = &sync.Mutex{}
		r.hooks[name] = mu
	}
	return mu
}

// State returns the record for name.
// Returns ErrNotFound if name has never been requested.
func (r *Registry) State(name string) (Record, error) {
	rec, ok := r.store.Load(name)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return rec, nil
}

// List returns every record, sorted by name when the store supports it.
func (r *Registry) List() []Record {
	return r.store.List()
}

// Close releases every handle that implements io.Closer and empties the
// registry. Further GetOrCreate calls return ErrClosed.
func (r *Registry) Close() error {
	r.closedMu.Lock()
	if r.closed {
		r.closedMu.Unlock()
		return nil
	}
	r.closed = true
	r.closedMu.Unlock()

	var errs []error
	for _, rec := range r.store.List() {
		if c, ok := rec.Handle.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s: %w", rec.Name, err))
			}
		}
		r.store.Delete(rec.Name)
	}
	return errors.Join(errs...)
}

func (r *Registry) isClosed() bool {
	r.closedMu.RLock()
	defer r.closedMu.RUnlock()
	return r.closed
}
