package cartesianmotion

import (
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// DefaultControllerType is the type identifier of the stock controller.
const DefaultControllerType = "cartesian"

// Constructor builds a controller variant from configuration and
// dependencies.
type Constructor func(cfg *Config, deps Deps, logger logging.Logger) (*Controller, error)

// Registry maps controller-type identifiers to constructors. Types are
// registered at process startup and resolved from static configuration;
// there is no dynamic discovery.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds a constructor under the given type identifier.
// Registering the same identifier twice is an error.
func (r *Registry) Register(controllerType string, ctor Constructor) error {
	if controllerType == "" {
		return errors.New("controller type must not be empty")
	}
	if ctor == nil {
		return errors.New("constructor must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctors[controllerType]; exists {
		return errors.Errorf("controller type %q already registered", controllerType)
	}
	r.ctors[controllerType] = ctor
	return nil
}

// Lookup returns the constructor for a type identifier.
func (r *Registry) Lookup(controllerType string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.ctors[controllerType]
	return ctor, ok
}

// Build resolves cfg.ControllerType and invokes its constructor.
func (r *Registry) Build(cfg *Config, deps Deps, logger logging.Logger) (*Controller, error) {
	controllerType := cfg.ControllerType
	if controllerType == "" {
		controllerType = DefaultControllerType
	}
	ctor, ok := r.Lookup(controllerType)
	if !ok {
		return nil, errors.Errorf("unknown controller type %q", controllerType)
	}
	return ctor(cfg, deps, logger)
}

// DefaultRegistry is populated at init with the built-in controller.
var DefaultRegistry = NewRegistry()

func init() {
	if err := DefaultRegistry.Register(DefaultControllerType, NewController); err != nil {
		panic(err)
	}
}
