package durable

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ServiceType distinguishes stateless services from keyed virtual objects.
type ServiceType string

const (
	ServiceTypeService ServiceType = "service"
	ServiceTypeObject  ServiceType = "object"
)

// Mode describes how a handler is scheduled relative to others on the same key.
type Mode string

const (
	// ModeService handlers have no key and no state.
	ModeService Mode = "service"
	// ModeExclusive handlers hold the key's lock exclusively.
	ModeExclusive Mode = "exclusive"
	// ModeShared handlers may overlap with other shared handlers on the key.
	ModeShared Mode = "shared"
)

// Validator is implemented by request types that check themselves after
// decoding. A failing Validate rejects the request before the handler runs.
type Validator interface {
	Validate() error
}

// Void is the input or output of a handler that takes or returns nothing.
type Void struct{}

// Handler is a registered entry point of a service definition.
type Handler interface {
	Mode() Mode
	Call(ctx Context, input []byte) ([]byte, error)
}

// ServiceDefinition groups the handlers exposed under one service name.
type ServiceDefinition struct {
	Name     string
	Type     ServiceType
	Handlers map[string]Handler
}

type handler struct {
	mode Mode
	call func(ctx Context, input []byte) ([]byte, error)
}

func (h *handler) Mode() Mode { return h.mode }

func (h *handler) Call(ctx Context, input []byte) ([]byte, error) {
	return h.call(ctx, input)
}

// NewServiceHandler adapts fn into a stateless service handler.
func NewServiceHandler[I, O any](fn func(ctx Context, in I) (O, error)) Handler {
	return &handler{
		mode: ModeService,
		call: func(ctx Context, input []byte) ([]byte, error) {
			in, err := decodeInput[I](input)
			if err != nil {
				return nil, err
			}
			out, err := fn(ctx, in)
			if err != nil {
				return nil, err
			}
			return encodeOutput(out)
		},
	}
}

// NewObjectHandler adapts fn into an exclusive object handler.
func NewObjectHandler[I, O any](fn func(ctx ObjectContext, in I) (O, error)) Handler {
	return &handler{
		mode: ModeExclusive,
		call: func(ctx Context, input []byte) ([]byte, error) {
			octx, ok := ctx.(ObjectContext)
			if !ok {
				return nil, fmt.Errorf("exclusive handler invoked without object context")
			}
			in, err := decodeInput[I](input)
			if err != nil {
				return nil, err
			}
			out, err := fn(octx, in)
			if err != nil {
				return nil, err
			}
			return encodeOutput(out)
		},
	}
}

// NewObjectSharedHandler adapts fn into a shared object handler.
func NewObjectSharedHandler[I, O any](fn func(ctx ObjectSharedContext, in I) (O, error)) Handler {
	return &handler{
		mode: ModeShared,
		call: func(ctx Context, input []byte) ([]byte, error) {
			sctx, ok := ctx.(ObjectSharedContext)
			if !ok {
				return nil, fmt.Errorf("shared handler invoked without object context")
			}
			in, err := decodeInput[I](input)
			if err != nil {
				return nil, err
			}
			out, err := fn(sctx, in)
			if err != nil {
				return nil, err
			}
			return encodeOutput(out)
		},
	}
}

// decodeInput unmarshals the request body into I and runs its validation.
// An empty body decodes to the zero value of I.
func decodeInput[I any](input []byte) (I, error) {
	var in I
	if len(bytes.TrimSpace(input)) > 0 {
		if _, void := any(in).(Void); !void {
			if err := json.Unmarshal(input, &in); err != nil {
				return in, ValidationErrorf("invalid request body: %v", err)
			}
		}
	}
	if v, ok := any(&in).(Validator); ok {
		if err := v.Validate(); err != nil {
			return in, ValidationErrorf("%v", err)
		}
	}
	return in, nil
}

func encodeOutput[O any](out O) ([]byte, error) {
	if _, void := any(out).(Void); void {
		return nil, nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return data, nil
}
