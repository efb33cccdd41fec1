// Package registry tracks the datasources visible to reference resolution.
// Datasources are registered by name before evaluation begins; transient
// datasources are registered as factories under a generated name and created
// on first use. Decorators wrap every datasource entering the registry and
// remove listeners hear about every datasource leaving it.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/leapstack-labs/harmonize/pkg/core"
)

// Factory creates a datasource with the given name.
type Factory func(name string) (core.Datasource, error)

// Decorator wraps a datasource as it enters the registry.
type Decorator func(core.Datasource) core.Datasource

// RemoveListener is called with the decorated datasource after it left the
// registry and before it is closed.
type RemoveListener func(core.Datasource)

// DuplicateNameError is returned when a different datasource is already
// registered under the same name.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("a datasource named %q is already registered", e.Name)
}

// Registry maps datasource names to datasources. It is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	// byName maps registered names to decorated datasources: "cohort" → *view.Datasource
	byName map[string]core.Datasource

	// added maps registered names to the datasource given to Add
	added map[string]core.Datasource

	// factories holds transient datasource factories keyed by generated uid
	factories map[string]Factory

	// transients holds transient datasources created on first use
	transients map[string]core.Datasource

	decorators []Decorator
	listeners  []RemoveListener

	newID  func() string
	logger *slog.Logger
}

// New creates an empty registry. A nil logger discards output.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		byName:     make(map[string]core.Datasource),
		added:      make(map[string]core.Datasource),
		factories:  make(map[string]Factory),
		transients: make(map[string]core.Datasource),
		newID:      func() string { return uuid.New().String() },
		logger:     logger,
	}
}

// AddDecorator appends a decorator applied, in order, to datasources added
// or created afterwards.
func (r *Registry) AddDecorator(d Decorator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decorators = append(r.decorators, d)
}

// OnRemove registers a listener called by Remove and RemoveTransient.
func (r *Registry) OnRemove(l RemoveListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) decorateLocked(ds core.Datasource) core.Datasource {
	for _, d := range r.decorators {
		ds = d(ds)
	}
	return ds
}

// removed notifies the listeners and closes ds. It must be called without
// holding the lock.
func (r *Registry) removed(ds core.Datasource) error {
	r.mu.RLock()
	listeners := append([]RemoveListener(nil), r.listeners...)
	r.mu.RUnlock()

	for _, l := range listeners {
		l(ds)
	}
	return ds.Close()
}

// Add registers a datasource, decorated. Adding the same instance twice is a
// no-op; adding a different datasource under a taken name fails.
func (r *Registry) Add(ds core.Datasource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.added[ds.Name()]; ok {
		if existing == ds {
			return nil
		}
		return &DuplicateNameError{Name: ds.Name()}
	}
	r.added[ds.Name()] = ds
	r.byName[ds.Name()] = r.decorateLocked(ds)
	r.logger.Debug("datasource registered", "name", ds.Name(), "type", ds.Type())
	return nil
}

// Get returns the datasource with the given name. Transient datasources are
// found by their uid and created on first access.
func (r *Registry) Get(name string) (core.Datasource, error) {
	r.mu.RLock()
	ds, ok := r.byName[name]
	_, transient := r.factories[name]
	r.mu.RUnlock()

	if ok {
		return ds, nil
	}
	if transient {
		return r.Transient(name)
	}
	return nil, &core.NoSuchDatasourceError{Name: name}
}

// Has reports whether a datasource is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// Datasources returns the registered datasources sorted by name.
func (r *Registry) Datasources() []core.Datasource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]core.Datasource, 0, len(r.byName))
	for _, ds := range r.byName {
		result = append(result, ds)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Remove unregisters a datasource, notifies the remove listeners and closes
// it.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	ds, ok := r.byName[name]
	delete(r.byName, name)
	delete(r.added, name)
	r.mu.Unlock()

	if !ok {
		return &core.NoSuchDatasourceError{Name: name}
	}
	r.logger.Debug("datasource removed", "name", name)
	return r.removed(ds)
}

// AddTransient registers a transient datasource factory and returns the
// generated uid under which it can be obtained.
func (r *Registry) AddTransient(factory Factory) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	uid := r.newID()
	for r.hasTransientLocked(uid) {
		uid = r.newID()
	}
	r.factories[uid] = factory
	return uid
}

// HasTransient reports whether uid names a transient datasource factory.
func (r *Registry) HasTransient(uid string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hasTransientLocked(uid)
}

func (r *Registry) hasTransientLocked(uid string) bool {
	_, ok := r.factories[uid]
	return ok
}

// Transient returns the datasource of a transient factory, creating and
// decorating it on first access. Later calls return the same instance. The
// factory runs without holding the registry lock; when two callers race,
// the first stored datasource wins and the other one is closed.
func (r *Registry) Transient(uid string) (core.Datasource, error) {
	r.mu.RLock()
	ds, ok := r.transients[uid]
	factory, known := r.factories[uid]
	r.mu.RUnlock()

	if ok {
		return ds, nil
	}
	if !known {
		return nil, &core.NoSuchDatasourceError{Name: uid}
	}

	created, err := factory(uid)
	if err != nil {
		return nil, fmt.Errorf("creating transient datasource %s: %w", uid, err)
	}

	r.mu.Lock()
	if ds, ok := r.transients[uid]; ok {
		r.mu.Unlock()
		_ = created.Close()
		return ds, nil
	}
	if _, ok := r.factories[uid]; !ok {
		r.mu.Unlock()
		_ = created.Close()
		return nil, &core.NoSuchDatasourceError{Name: uid}
	}
	ds = r.decorateLocked(created)
	r.transients[uid] = ds
	r.mu.Unlock()

	r.logger.Debug("transient datasource created", "uid", uid, "type", ds.Type())
	return ds, nil
}

// RemoveTransient forgets a transient datasource. When it was created the
// remove listeners are notified and it is closed.
func (r *Registry) RemoveTransient(uid string) error {
	r.mu.Lock()
	ds, created := r.transients[uid]
	delete(r.factories, uid)
	delete(r.transients, uid)
	r.mu.Unlock()

	if created {
		return r.removed(ds)
	}
	return nil
}

// Close closes every registered and transient datasource.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, ds := range r.byName {
		if err := ds.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	for uid, ds := range r.transients {
		if err := ds.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing transient %s: %w", uid, err))
		}
	}
	r.byName = make(map[string]core.Datasource)
	r.added = make(map[string]core.Datasource)
	r.factories = make(map[string]Factory)
	r.transients = make(map[string]core.Datasource)
	return errors.Join(errs...)
}
