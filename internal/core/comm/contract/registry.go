package contract

import (
	"fmt"
	"sync"
	"time"

	version "github.com/hashicorp/go-version"

	"github.com/plugmesh/plugmesh/internal/core/comm"
	"github.com/plugmesh/plugmesh/internal/core/observability/log"
)

// Registration is one registry entry: a provider offering one version of a
// named service.
type Registration struct {
	Provider     string    `json:"provider"`
	Contract     Contract  `json:"contract"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Registry maps service names to registered contract versions. It is a plain
// constructed object handed to whoever needs it; there is no package-level
// instance. Multiple versions of the same name may coexist, each tagged to
// its own provider.
type Registry struct {
	lg log.Log

	mu      sync.RWMutex
	entries map[string][]Registration
}

func NewRegistry(lg log.Log) *Registry {
	if lg == nil {
		lg = log.Nop()
	}
	return &Registry{
		lg:      lg.With(log.String("component", "contracts")),
		entries: make(map[string][]Registration),
	}
}

// Register validates and stores a contract. An exact duplicate (same name
// and same major.minor.patch, regardless of provider) is rejected.
func (r *Registry) Register(provider string, c Contract) error {
	if provider == "" {
		return fmt.Errorf("%w: empty provider id", comm.ErrInvalidConfiguration)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	ver, err := c.SemVer()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.entries[c.Name] {
		existing, verr := reg.Contract.SemVer()
		if verr == nil && existing.Equal(ver) {
			return fmt.Errorf("%w: %s v%s already registered by %s", comm.ErrDuplicateContract, c.Name, c.Version, reg.Provider)
		}
	}
	c.Provider = provider
	r.entries[c.Name] = append(r.entries[c.Name], Registration{
		Provider:     provider,
		Contract:     c,
		RegisteredAt: time.Now(),
	})
	r.lg.Info("contract registered",
		log.String("service", c.Name),
		log.String("version", c.Version),
		log.String("provider", provider))
	return nil
}

// Unregister removes every version of a service registered by a provider
// and returns the count removed.
func (r *Registry) Unregister(provider, name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	regs := r.entries[name]
	kept := regs[:0]
	removed := 0
	for _, reg := range regs {
		if reg.Provider == provider {
			removed++
			continue
		}
		kept = append(kept, reg)
	}
	if len(kept) == 0 {
		delete(r.entries, name)
	} else {
		r.entries[name] = kept
	}
	return removed
}

// Get returns the best registered contract for a name: the highest version
// with the same major as minVersion and a minor no lower than requested.
func (r *Registry) Get(name, minVersion string) (Contract, error) {
	reg, err := r.bestMatch(name, minVersion)
	if err != nil {
		return Contract{}, err
	}
	return reg.Contract, nil
}

// FindProvider resolves the provider id owning the best match.
func (r *Registry) FindProvider(name, minVersion string) (string, error) {
	reg, err := r.bestMatch(name, minVersion)
	if err != nil {
		return "", err
	}
	return reg.Provider, nil
}

// ValidateDependencies confirms that every declared dependency has a
// compatible registered provider.
func (r *Registry) ValidateDependencies(c Contract) error {
	for dep, minVer := range c.Dependencies {
		if _, err := r.bestMatch(dep, minVer); err != nil {
			return fmt.Errorf("%w: %s needs %s >= %s: %v", comm.ErrDependencyMissing, c.Name, dep, minVer, err)
		}
	}
	return nil
}

// List returns the registered service names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// Versions returns every registration of a service name.
func (r *Registry) Versions(name string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Registration(nil), r.entries[name]...)
}

func (r *Registry) bestMatch(name, minVersion string) (Registration, error) {
	want, err := version.NewVersion(minVersion)
	if err != nil {
		return Registration{}, fmt.Errorf("%w: invalid minimum version %q", comm.ErrInvalidConfiguration, minVersion)
	}

	r.mu.RLock()
	regs := append([]Registration(nil), r.entries[name]...)
	r.mu.RUnlock()

	if len(regs) == 0 {
		return Registration{}, fmt.Errorf("%w: no providers for %q", comm.ErrIncompatibleVersion, name)
	}

	var best *Registration
	var bestVer *version.Version
	for i := range regs {
		have, verr := regs[i].Contract.SemVer()
		if verr != nil {
			continue
		}
		if !Compatible(have, want) {
			continue
		}
		if bestVer == nil || have.GreaterThan(bestVer) {
			best = &regs[i]
			bestVer = have
		}
	}
	if best == nil {
		return Registration{}, fmt.Errorf("%w: no provider of %q satisfies >= %s", comm.ErrIncompatibleVersion, name, minVersion)
	}
	return *best, nil
}
