package catalogue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/nerrad567/beamline-core/internal/control"
	"github.com/nerrad567/beamline-core/internal/infrastructure/config"
	"github.com/nerrad567/beamline-core/internal/registry"
)

var largeAperture = []any{2.389, 40.986, 15.8, 5.25, 4.43}

func testBeamline() config.BeamlineConfig {
	resources := config.DefaultResources()
	resources["aperture_scatterguard"] = config.ResourceConfig{
		Settings: map[string]any{"large": largeAperture},
	}
	return config.BeamlineConfig{Name: "i03", Resources: resources}
}

// countingSim builds simulated handles and counts them.
type countingSim struct {
	calls atomic.Int32
}

func (f *countingSim) factory(name, address string) (control.Handle, error) {
	f.calls.Add(1)
	return control.NewSimHandle(name, address), nil
}

func TestGetResolvesAddresses(t *testing.T) {
	f := &countingSim{}
	cat := New(registry.New(registry.WithPrefix("BL03I")), f.factory, testBeamline())
	ctx := context.Background()

	tests := []struct {
		name string
		want string
	}{
		{"backlight", "BL03I-EA-BL-01:"},
		{"eiger", "BL03I-EA-EIGER-01:"},
		{"fast_grid_scan", "BL03I-MO-SGON-01:FGS:"},
		{"s4_slit_gaps", "BL03I-AL-SLITS-04:"},
		{"zebra", "BL03I-EA-ZEBRA-01:"},
		{"undulator", "SR03I-MO-SERVC-01:"},
		{"synchrotron", "CS-CS-MSTAT-01:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := cat.Get(ctx, tt.name)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if h.Address() != tt.want {
				t.Errorf("Address() = %q, want %q", h.Address(), tt.want)
			}
		})
	}

	again, err := cat.Get(ctx, "zebra")
	if err != nil {
		t.Fatal(err)
	}
	if again.Address() != "BL03I-EA-ZEBRA-01:" || int(f.calls.Load()) != len(tests) {
		t.Errorf("second Get created a new handle (calls = %d)", f.calls.Load())
	}
}

func TestGetUnknown(t *testing.T) {
	cat := New(registry.New(), nil, testBeamline())
	if _, err := cat.Get(context.Background(), "robot"); !errors.Is(err, ErrUnknownResource) {
		t.Errorf("Get() error = %v, want ErrUnknownResource", err)
	}
}

func TestApertureSettings(t *testing.T) {
	cat := New(registry.New(), nil, testBeamline())
	ctx := context.Background()

	h, err := cat.Get(ctx, "aperture_scatterguard")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	sim := h.(*control.SimHandle)
	if sim.Settings()["large"] == nil {
		t.Fatalf("configured positions not loaded: %v", sim.Settings())
	}

	// A plain lookup leaves the current positions alone.
	if _, err := cat.Get(ctx, "aperture_scatterguard"); err != nil {
		t.Fatal(err)
	}
	if sim.ConfigureCount() != 1 {
		t.Errorf("ConfigureCount() = %d, want 1", sim.ConfigureCount())
	}

	small := map[string]any{"small": []any{3.0, 44.0, 15.8, 5.3, 4.43}}
	if _, err := cat.Get(ctx, "aperture_scatterguard", WithSettings(small)); err != nil {
		t.Fatal(err)
	}
	got := sim.Settings()
	if _, hasLarge := got["large"]; hasLarge || got["small"] == nil {
		t.Errorf("Settings() = %v, want only the new positions", got)
	}
}

func TestGetWaitForConnection(t *testing.T) {
	failing := control.Simulated(control.WithConnectError(errors.New("no IOC")))
	cat := New(registry.New(registry.WithSimulatedFactory(failing)), nil, testBeamline())
	ctx := context.Background()

	if _, err := cat.Get(ctx, "zebra"); !errors.Is(err, control.ErrConnection) {
		t.Errorf("Get(zebra) error = %v, want ErrConnection", err)
	}
	if _, err := cat.Get(ctx, "eiger"); err != nil {
		t.Errorf("Get(eiger) error = %v, eiger does not wait", err)
	}
	if _, err := cat.Get(ctx, "backlight", WithoutWait()); err != nil {
		t.Errorf("Get(backlight, WithoutWait) error = %v", err)
	}
}

func TestEntries(t *testing.T) {
	cat := New(registry.New(), nil, testBeamline())
	entries := cat.Entries()
	if len(entries) != len(config.DefaultResources()) {
		t.Fatalf("Entries() = %d, want %d", len(entries), len(config.DefaultResources()))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Name >= entries[i].Name {
			t.Fatalf("entries not sorted: %q before %q", entries[i-1].Name, entries[i].Name)
		}
	}

	e, err := cat.Lookup("undulator")
	if err != nil || e.Address != "SR03I-MO-SERVC-01:" || !e.WaitForConnection {
		t.Errorf("Lookup(undulator) = %+v, %v", e, err)
	}
}
