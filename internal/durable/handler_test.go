package durable_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/doss/internal/durable"
	"github.com/seantiz/doss/internal/durable/durabletest"
)

type greetRequest struct {
	Name string `json:"name"`
}

func (r *greetRequest) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func TestServiceHandlerDecodesAndEncodes(t *testing.T) {
	h := durable.NewServiceHandler(func(_ durable.Context, in greetRequest) (string, error) {
		return "hello " + in.Name, nil
	})
	assert.Equal(t, durable.ModeService, h.Mode())

	out, err := h.Call(durabletest.NewContext(""), []byte(`{"name":"ada"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `"hello ada"`, string(out))
}

func TestHandlerValidationIsTerminal(t *testing.T) {
	called := false
	h := durable.NewServiceHandler(func(_ durable.Context, in greetRequest) (string, error) {
		called = true
		return "", nil
	})

	_, err := h.Call(durabletest.NewContext(""), []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, durable.ErrValidation)
	assert.True(t, durable.IsTerminal(err))
	assert.False(t, called, "handler must not run on invalid input")
}

func TestHandlerRejectsMalformedJSON(t *testing.T) {
	h := durable.NewServiceHandler(func(_ durable.Context, in greetRequest) (string, error) {
		return in.Name, nil
	})

	_, err := h.Call(durabletest.NewContext(""), []byte(`{"name":`))
	assert.ErrorIs(t, err, durable.ErrValidation)
}

func TestVoidHandlerIgnoresBodyAndReturnsNothing(t *testing.T) {
	h := durable.NewObjectHandler(func(ctx durable.ObjectContext, _ durable.Void) (durable.Void, error) {
		return durable.Void{}, ctx.ClearAll()
	})
	assert.Equal(t, durable.ModeExclusive, h.Mode())

	out, err := h.Call(durabletest.NewContext("k"), []byte(`ignored`))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestSharedHandlerMode(t *testing.T) {
	h := durable.NewObjectSharedHandler(func(ctx durable.ObjectSharedContext, _ durable.Void) (string, error) {
		return ctx.Key(), nil
	})
	assert.Equal(t, durable.ModeShared, h.Mode())

	out, err := h.Call(durabletest.NewContext("stack-1"), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"stack-1"`, string(out))
}

func TestRunMemoizesTypedResult(t *testing.T) {
	ctx := durabletest.NewContext("")
	calls := 0
	fn := func(context.Context) (int, error) {
		calls++
		return 42, nil
	}

	v, err := durable.Run(ctx, "answer", fn)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = durable.Run(ctx, "answer", fn)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"answer"}, ctx.Replayed())
}

func TestRunDoesNotRecordFailures(t *testing.T) {
	ctx := durabletest.NewContext("")
	boom := errors.New("boom")

	_, err := durable.Run(ctx, "step", func(context.Context) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)

	_, ok := ctx.Journal("step")
	assert.False(t, ok)
}

func TestTypedStateRoundTrip(t *testing.T) {
	ctx := durabletest.NewContext("k")

	_, ok, err := durable.Get[map[string]int](ctx, "counts")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, durable.Set(ctx, "counts", map[string]int{"a": 1}))

	got, ok, err := durable.Get[map[string]int](ctx, "counts")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, map[string]int{"a": 1}, got)

	raw, _, _ := ctx.Get("counts")
	assert.True(t, json.Valid(raw))
}

func TestRestoreTerminal(t *testing.T) {
	original := durable.ValidationErrorf("steps must be >= 1, got 0")

	restored := durable.RestoreTerminal(original.Error())
	assert.ErrorIs(t, restored, durable.ErrValidation)
	assert.True(t, durable.IsTerminal(restored))
	assert.Equal(t, original.Error(), restored.Error())

	other := durable.RestoreTerminal("payment declined")
	assert.True(t, durable.IsTerminal(other))
	assert.NotErrorIs(t, other, durable.ErrValidation)
	assert.Equal(t, "payment declined", other.Error())
}
