package catalogue

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/nerrad567/beamline-core/internal/control"
	"github.com/nerrad567/beamline-core/internal/infrastructure/config"
	"github.com/nerrad567/beamline-core/internal/registry"
)

// ErrUnknownResource is returned for names missing from the catalogue.
var ErrUnknownResource = errors.New("catalogue: unknown resource")

// Entry is one resolved catalogue entry.
type Entry struct {
	Name              string         `json:"name"`
	Address           string         `json:"address"`
	WaitForConnection bool           `json:"wait_for_connection"`
	Settings          map[string]any `json:"settings,omitempty"`
}

// Catalogue resolves named resources to registry handles.
//
// Thread Safety: safe for concurrent use; entries are fixed at New.
type Catalogue struct {
	registry *registry.Registry
	factory  control.Factory
	entries  map[string]Entry
}

// New builds a catalogue from the beamline config. Addresses are resolved
// once against cfg.AddressPrefix().
//
// Parameters:
//   - reg: registry that owns the handles
//   - factory: builds real handles; nil makes every resource simulated
//   - cfg: beamline section carrying the resource table
func New(reg *registry.Registry, factory control.Factory, cfg config.BeamlineConfig) *Catalogue {
	prefix := cfg.AddressPrefix()
	entries := make(map[string]Entry, len(cfg.Resources))
	for name, rc := range cfg.Resources {
		entries[name] = Entry{
			Name:              name,
			Address:           rc.FullAddress(prefix),
			WaitForConnection: rc.Waits(),
			Settings:          rc.Settings,
		}
	}
	return &Catalogue{registry: reg, factory: factory, entries: entries}
}

// Entries returns every entry sorted by name.
func (c *Catalogue) Entries() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the entry for name.
func (c *Catalogue) Lookup(name string) (Entry, error) {
	e, ok := c.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownResource, name)
	}
	return e, nil
}

// Option adjusts a single Get.
type Option func(*getOptions)

type getOptions struct {
	settings  map[string]any
	noWait    bool
	simulated bool
}

// WithSettings replaces the resource's settings, on creation and on every
// later Get that passes it. Aperture positions are loaded this way.
func WithSettings(settings map[string]any) Option {
	return func(o *getOptions) { o.settings = settings }
}

// WithoutWait skips waiting for connection on creation.
func WithoutWait() Option {
	return func(o *getOptions) { o.noWait = true }
}

// Simulated creates the resource with the registry's simulated factory.
// The choice is fixed at first creation.
func Simulated() Option {
	return func(o *getOptions) { o.simulated = true }
}

// Get returns the handle for name, creating it on first use.
//
// Settings from the config are applied only when the handle is created.
// Settings passed with WithSettings are applied every time.
func (c *Catalogue) Get(ctx context.Context, name string, opts ...Option) (control.Handle, error) {
	e, err := c.Lookup(name)
	if err != nil {
		return nil, err
	}

	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}

	ropts := registry.Options{
		Factory:           c.factory,
		Address:           e.Address,
		Absolute:          true,
		WaitForConnection: e.WaitForConnection && !o.noWait,
		Simulated:         o.simulated || c.factory == nil,
	}

	switch {
	case o.settings != nil:
		ropts.PostCreate = control.Configure(o.settings)
	case e.Settings != nil && !c.ready(name):
		ropts.PostCreate = control.Configure(e.Settings)
	}

	return c.registry.GetOrCreate(ctx, name, ropts)
}

func (c *Catalogue) ready(name string) bool {
	rec, err := c.registry.State(name)
	return err == nil && rec.State == registry.StateReady
}
