package tools

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greeterPy = `class Greeter:
    def greet(self, name):
        return name


def main():
    pass
`

func TestIndexSymbols_Summary(t *testing.T) {
	ws := newWorkspace(t, map[string]string{"app/greeter.py": greeterPy})

	out, err := call(t, ws, "index_symbols", Args{})
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"Indexed 1 files: 1 classes, 1 functions, 1 methods, 0 imports",
		"",
		"Classes:",
		"  Greeter (app/greeter.py:1)",
		"\nFunctions:",
		"  def main() (app/greeter.py:6)",
	}, "\n"), out)
}

func TestIndexSymbols_ByKind(t *testing.T) {
	ws := newWorkspace(t, map[string]string{"app/greeter.py": greeterPy})

	out, err := call(t, ws, "index_symbols", Args{"kind": "method"})
	require.NoError(t, err)
	assert.Equal(t, "Found 1 method(s):\n\n  def greet(self, name)\n    → app/greeter.py:2", out)

	out, err = call(t, ws, "index_symbols", Args{"kind": "variable"})
	require.NoError(t, err)
	assert.Equal(t, "Unknown kind 'variable'. Use: class, function, method, import", out)
}

func TestIndexSymbols_FunctionLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 18; i++ {
		fmt.Fprintf(&b, "def f%02d():\n    pass\n\n", i)
	}
	ws := newWorkspace(t, map[string]string{"many.py": b.String()})

	out, err := call(t, ws, "index_symbols", Args{})
	require.NoError(t, err)
	assert.Contains(t, out, "  ... and 3 more")
	assert.NotContains(t, out, "f15")
}

func TestFindSymbol(t *testing.T) {
	ws := newWorkspace(t, map[string]string{"app/greeter.py": greeterPy})

	out, err := call(t, ws, "find_symbol", Args{"name": "GREET"})
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"Found 2 symbol(s) matching 'GREET':",
		"",
		"  [class] Greeter",
		"    → app/greeter.py:1-3",
		"  [method] Greeter.greet",
		"    def greet(self, name)",
		"    → app/greeter.py:2-3",
	}, "\n"), out)

	out, err = call(t, ws, "find_symbol", Args{"name": "nothing"})
	require.NoError(t, err)
	assert.Equal(t, "No symbols found matching 'nothing'", out)
}
