// Package datastore implements DossDataStore, a keyed object holding step
// results for a stack. Each object key scopes its own state and lock domain.
package datastore

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/seantiz/doss/internal/durable"
)

// ServiceName is the name DossDataStore is registered under.
const ServiceName = "DossDataStore"

// Handler names.
const (
	HandlerCleanup  = "cleanup"
	HandlerGetState = "get_state"
	HandlerSetState = "set_state"
)

var null = json.RawMessage("null")

// GetStateRequest is the body of get_state.
type GetStateRequest struct {
	StackID string `json:"stack_id"`
	StepID  *int   `json:"step_id"`
}

func (r *GetStateRequest) Validate() error {
	return validateSlot(r.StackID, r.StepID)
}

// Key returns the state key the request addresses.
func (r *GetStateRequest) Key() ResultKey {
	return ResultKey{StackID: r.StackID, StepID: *r.StepID}
}

// SetStateRequest is the body of set_state. A missing value is stored as null.
type SetStateRequest struct {
	StackID string          `json:"stack_id"`
	StepID  *int            `json:"step_id"`
	Value   json.RawMessage `json:"value"`
}

func (r *SetStateRequest) Validate() error {
	return validateSlot(r.StackID, r.StepID)
}

// Key returns the state key the request addresses.
func (r *SetStateRequest) Key() ResultKey {
	return ResultKey{StackID: r.StackID, StepID: *r.StepID}
}

func validateSlot(stackID string, stepID *int) error {
	if stackID == "" {
		return errors.New("stack_id is required")
	}
	if strings.Contains(stackID, "/") {
		return errors.New("stack_id must not contain '/'")
	}
	if stepID == nil {
		return errors.New("step_id is required")
	}
	return nil
}

// Definition returns the DossDataStore service definition.
func Definition() durable.ServiceDefinition {
	return durable.ServiceDefinition{
		Name: ServiceName,
		Type: durable.ServiceTypeObject,
		Handlers: map[string]durable.Handler{
			HandlerCleanup:  durable.NewObjectHandler(Cleanup),
			HandlerGetState: durable.NewObjectSharedHandler(GetState),
			HandlerSetState: durable.NewObjectHandler(SetState),
		},
	}
}

// Cleanup clears every entry owned by the object key.
func Cleanup(ctx durable.ObjectContext, _ durable.Void) (durable.Void, error) {
	return durable.Void{}, ctx.ClearAll()
}

// GetState returns the stored value for the requested slot, or null.
func GetState(ctx durable.ObjectSharedContext, req GetStateRequest) (json.RawMessage, error) {
	v, ok, err := ctx.Get(req.Key().String())
	if err != nil {
		return nil, err
	}
	if !ok || len(v) == 0 {
		return null, nil
	}
	return json.RawMessage(v), nil
}

// SetState overwrites the value of the requested slot.
func SetState(ctx durable.ObjectContext, req SetStateRequest) (durable.Void, error) {
	v := req.Value
	if len(v) == 0 {
		v = null
	}
	return durable.Void{}, ctx.Set(req.Key().String(), v)
}
