package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "plain error lands under the default code",
			err:         errors.New("connection reset"),
			wantCode:    ErrorCodeHandler,
			wantMessage: "connection reset",
		},
		{
			name:        "coded error keeps its code",
			err:         NewError("SYNC_UPSTREAM", "upstream returned 503"),
			wantCode:    "SYNC_UPSTREAM",
			wantMessage: "upstream returned 503",
		},
		{
			name:        "wrapped coded error keeps code and outer context",
			err:         fmt.Errorf("sync posts: %w", NewError("SYNC_UPSTREAM", "upstream returned 503")),
			wantCode:    "SYNC_UPSTREAM",
			wantMessage: "sync posts: upstream returned 503",
		},
		{
			name:        "coded error with empty code falls back to the default",
			err:         &Error{Message: "no code supplied"},
			wantCode:    ErrorCodeHandler,
			wantMessage: "no code supplied",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, message := Classify(tt.err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantMessage, message)
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: connection refused")
	err := &Error{Code: "SYNC_UPSTREAM", Message: "fetch posts", Err: cause}

	assert.Equal(t, "fetch posts: dial tcp: connection refused", err.Error())
	assert.True(t, errors.Is(err, cause))
}

func TestFuncAdaptsPlainFunctions(t *testing.T) {
	t.Parallel()

	h := NewFunc("echo_twice", func(ctx *Context) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	})
	require.Equal(t, "echo_twice", h.Type())

	assert.Panics(t, func() { NewFunc("", func(*Context) (json.RawMessage, error) { return nil, nil }) })
	assert.Panics(t, func() { NewFunc("echo_twice", nil) })
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(EchoHandler{}))
	require.NoError(t, r.Register(NewFunc("content_sync", func(*Context) (json.RawMessage, error) {
		return nil, nil
	})))

	assert.True(t, r.Has(TypeEcho))
	assert.False(t, r.Has("content_enrich"))

	h, ok := r.Get(TypeEcho)
	require.True(t, ok)
	assert.Equal(t, TypeEcho, h.Type())

	_, ok = r.Get("content_enrich")
	assert.False(t, ok)

	assert.Equal(t, []string{"content_sync", TypeEcho}, r.Types())
}

func TestRegistryRejectsBadRegistrations(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(EchoHandler{}))

	err := r.Register(EchoHandler{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	assert.ErrorIs(t, r.Register(nil), ErrNilHandler)
	assert.ErrorIs(t, r.Register(NewFuncNoType()), ErrEmptyJobType)

	assert.Panics(t, func() { r.MustRegister(EchoHandler{}) })
}

func TestTypeSetHas(t *testing.T) {
	t.Parallel()

	accepted := NewTypeSet(TypeEcho, "content_enrich")
	assert.True(t, accepted.Has(TypeEcho))
	assert.True(t, accepted.Has("content_enrich"))
	assert.False(t, accepted.Has("content_sync"))

	assert.False(t, NewTypeSet().Has(TypeEcho))
}

// NewFuncNoType builds a handler whose Type is empty, which NewFunc refuses
// to construct directly.
func NewFuncNoType() Handler {
	return emptyTypeHandler{}
}

type emptyTypeHandler struct{}

func (emptyTypeHandler) Type() string { return "" }

func (emptyTypeHandler) Execute(*Context) (json.RawMessage, error) { return nil, nil }
