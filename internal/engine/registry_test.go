package engine

import (
	"errors"
	"testing"

	"github.com/seantiz/doss/internal/durable"
)

func voidService() durable.Handler {
	return durable.NewServiceHandler(func(durable.Context, durable.Void) (durable.Void, error) {
		return durable.Void{}, nil
	})
}

func voidObject() durable.Handler {
	return durable.NewObjectHandler(func(durable.ObjectContext, durable.Void) (durable.Void, error) {
		return durable.Void{}, nil
	})
}

func voidShared() durable.Handler {
	return durable.NewObjectSharedHandler(func(durable.ObjectSharedContext, durable.Void) (durable.Void, error) {
		return durable.Void{}, nil
	})
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(durable.ServiceDefinition{
		Name:     "Counter",
		Type:     durable.ServiceTypeObject,
		Handlers: map[string]durable.Handler{"add": voidObject(), "get": voidShared()},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	def, h, err := reg.Resolve("Counter", "get")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if def.Name != "Counter" {
		t.Errorf("def.Name = %q, want Counter", def.Name)
	}
	if h.Mode() != durable.ModeShared {
		t.Errorf("mode = %q, want shared", h.Mode())
	}

	if typ, ok := reg.Type("Counter"); !ok || typ != durable.ServiceTypeObject {
		t.Errorf("Type(Counter) = %q, %v, want object, true", typ, ok)
	}
	if _, ok := reg.Type("Missing"); ok {
		t.Error("Type(Missing) reported ok")
	}
}

func TestRegistryResolveErrors(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(durable.ServiceDefinition{
		Name:     "Svc",
		Type:     durable.ServiceTypeService,
		Handlers: map[string]durable.Handler{"run": voidService()},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, _, err := reg.Resolve("Nope", "run"); !errors.Is(err, ErrServiceNotFound) {
		t.Errorf("Resolve(unknown service) error = %v, want ErrServiceNotFound", err)
	}
	if _, _, err := reg.Resolve("Svc", "nope"); !errors.Is(err, ErrHandlerNotFound) {
		t.Errorf("Resolve(unknown handler) error = %v, want ErrHandlerNotFound", err)
	}
}

func TestRegistryRejectsInvalidDefinitions(t *testing.T) {
	tests := []struct {
		name string
		def  durable.ServiceDefinition
	}{
		{"empty name", durable.ServiceDefinition{Type: durable.ServiceTypeService, Handlers: map[string]durable.Handler{"run": voidService()}}},
		{"no handlers", durable.ServiceDefinition{Name: "A", Type: durable.ServiceTypeService}},
		{"object handler on service", durable.ServiceDefinition{Name: "A", Type: durable.ServiceTypeService, Handlers: map[string]durable.Handler{"set": voidObject()}}},
		{"service handler on object", durable.ServiceDefinition{Name: "A", Type: durable.ServiceTypeObject, Handlers: map[string]durable.Handler{"run": voidService()}}},
		{"unknown type", durable.ServiceDefinition{Name: "A", Type: "workflow", Handlers: map[string]durable.Handler{"run": voidService()}}},
		{"reserved name", durable.ServiceDefinition{Name: "restate", Type: durable.ServiceTypeService, Handlers: map[string]durable.Handler{"run": voidService()}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewRegistry().Register(tt.def); err == nil {
				t.Error("Register succeeded, want error")
			}
		})
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	reg := NewRegistry()
	def := durable.ServiceDefinition{Name: "A", Type: durable.ServiceTypeService, Handlers: map[string]durable.Handler{"run": voidService()}}
	if err := reg.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(def); err == nil {
		t.Error("duplicate Register succeeded, want error")
	}
}

func TestRegistryListSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"Zeta", "Alpha", "Mid"} {
		if err := reg.Register(durable.ServiceDefinition{
			Name:     name,
			Type:     durable.ServiceTypeObject,
			Handlers: map[string]durable.Handler{"z": voidObject(), "a": voidShared()},
		}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	infos := reg.List()
	if len(infos) != 3 {
		t.Fatalf("len(List) = %d, want 3", len(infos))
	}
	for i, want := range []string{"Alpha", "Mid", "Zeta"} {
		if infos[i].Name != want {
			t.Errorf("List[%d].Name = %q, want %q", i, infos[i].Name, want)
		}
	}
	hs := infos[0].Handlers
	if len(hs) != 2 || hs[0].Name != "a" || hs[0].Mode != durable.ModeShared || hs[1].Name != "z" {
		t.Errorf("handlers = %+v, want sorted [a(shared) z]", hs)
	}
}

func TestRegistryListEmpty(t *testing.T) {
	if infos := NewRegistry().List(); len(infos) != 0 {
		t.Errorf("List on empty registry = %v", infos)
	}
}
