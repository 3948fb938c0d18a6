package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/seantiz/doss/internal/durable"
)

var (
	// ErrServiceNotFound is returned when no definition is registered under a name.
	ErrServiceNotFound = errors.New("service not found")
	// ErrHandlerNotFound is returned when a service has no handler with a name.
	ErrHandlerNotFound = errors.New("handler not found")
)

// reservedNames are path prefixes owned by the HTTP API.
var reservedNames = map[string]bool{
	"restate": true,
	"healthz": true,
	"metrics": true,
}

// HandlerInfo describes one handler of a registered service.
type HandlerInfo struct {
	Name string       `json:"name"`
	Mode durable.Mode `json:"mode"`
}

// ServiceInfo describes a registered service.
type ServiceInfo struct {
	Name     string              `json:"name"`
	Type     durable.ServiceType `json:"type"`
	Handlers []HandlerInfo       `json:"handlers"`
}

// Registry holds the service definitions the engine can invoke.
type Registry struct {
	mu       sync.RWMutex
	services map[string]durable.ServiceDefinition
}

// NewRegistry creates an empty service registry.
func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]durable.ServiceDefinition),
	}
}

// Register adds a service definition. Handler modes must match the service
// type: objects take exclusive or shared handlers, services only service ones.
func (r *Registry) Register(def durable.ServiceDefinition) error {
	if def.Name == "" {
		return errors.New("service name is required")
	}
	if reservedNames[def.Name] {
		return fmt.Errorf("service name %q is reserved", def.Name)
	}
	if len(def.Handlers) == 0 {
		return fmt.Errorf("service %q has no handlers", def.Name)
	}
	for name, h := range def.Handlers {
		mode := h.Mode()
		switch def.Type {
		case durable.ServiceTypeObject:
			if mode != durable.ModeExclusive && mode != durable.ModeShared {
				return fmt.Errorf("object %q handler %q has mode %q", def.Name, name, mode)
			}
		case durable.ServiceTypeService:
			if mode != durable.ModeService {
				return fmt.Errorf("service %q handler %q has mode %q", def.Name, name, mode)
			}
		default:
			return fmt.Errorf("service %q has unknown type %q", def.Name, def.Type)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[def.Name]; ok {
		return fmt.Errorf("service %q is already registered", def.Name)
	}
	r.services[def.Name] = def
	return nil
}

// Resolve returns the definition and handler for service/handler.
func (r *Registry) Resolve(service, handler string) (durable.ServiceDefinition, durable.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.services[service]
	if !ok {
		return durable.ServiceDefinition{}, nil, fmt.Errorf("%w: %s", ErrServiceNotFound, service)
	}
	h, ok := def.Handlers[handler]
	if !ok {
		return durable.ServiceDefinition{}, nil, fmt.Errorf("%w: %s/%s", ErrHandlerNotFound, service, handler)
	}
	return def, h, nil
}

// Type returns the type of the named service.
func (r *Registry) Type(service string) (durable.ServiceType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.services[service]
	return def.Type, ok
}

// List returns information about all registered services, sorted by name
// for a stable API response.
func (r *Registry) List() []ServiceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ServiceInfo, 0, len(r.services))
	for _, def := range r.services {
		info := ServiceInfo{Name: def.Name, Type: def.Type}
		for name, h := range def.Handlers {
			info.Handlers = append(info.Handlers, HandlerInfo{Name: name, Mode: h.Mode()})
		}
		sort.Slice(info.Handlers, func(i, j int) bool {
			return info.Handlers[i].Name < info.Handlers[j].Name
		})
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
