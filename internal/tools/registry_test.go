package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyur7523/koda/internal/workspace"
)

func TestNewDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry(DefaultConfig())

	assert.Equal(t, []string{
		"read_file", "write_file", "delete_file", "list_directory",
		"search_code", "run_command", "index_symbols", "find_symbol",
	}, r.Names())

	var readOnly []string
	for _, spec := range r.List(true) {
		readOnly = append(readOnly, spec.Name)
	}
	assert.Equal(t, []string{
		"read_file", "list_directory", "search_code", "run_command", "index_symbols", "find_symbol",
	}, readOnly)
}

func TestNewDefaultRegistry_ShellDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShellEnabled = false
	r := NewDefaultRegistry(cfg)

	_, ok := r.Get("run_command")
	assert.False(t, ok)
	assert.Len(t, r.ListByCategory(CategoryShell), 0)
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, *workspace.Workspace, Args) (string, error) { return "", nil }

	require.NoError(t, r.Register(&Spec{Name: "a", Handler: noop}))
	assert.Error(t, r.Register(&Spec{Name: "a", Handler: noop}), "duplicate name")
	assert.Error(t, r.Register(&Spec{Name: "", Handler: noop}))
	assert.Error(t, r.Register(&Spec{Name: "b"}), "missing handler")
	assert.Error(t, r.Register(nil))
}

func TestSpec_InputSchema(t *testing.T) {
	r := NewDefaultRegistry(DefaultConfig())
	spec, ok := r.Get("search_code")
	require.True(t, ok)

	schema := spec.InputSchema()
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"query"}, schema["required"])

	props := schema["properties"].(map[string]any)
	require.Contains(t, props, "file_pattern")
	assert.Equal(t, "string", props["file_pattern"].(map[string]any)["type"])

	spec, _ = r.Get("index_symbols")
	assert.Equal(t, []string{}, spec.InputSchema()["required"])
}

func TestArgs(t *testing.T) {
	args := Args{"path": "a.txt", "n": float64(3), "flag": true, "nil": nil, "obj": map[string]any{}}

	s, err := args.String("path")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", s)

	s, err = args.String("n")
	require.NoError(t, err)
	assert.Equal(t, "3", s)

	s, err = args.String("flag")
	require.NoError(t, err)
	assert.Equal(t, "true", s)

	_, err = args.String("missing")
	assert.ErrorIs(t, err, ErrMissingArgument)
	_, err = args.String("nil")
	assert.ErrorIs(t, err, ErrMissingArgument)
	_, err = args.String("obj")
	assert.Error(t, err)

	assert.Equal(t, "*", args.OptionalString("file_pattern", "*"))
}
