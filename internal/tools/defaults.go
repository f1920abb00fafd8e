package tools

import (
	"time"
)

// Config tunes the built-in tools.
type Config struct {
	// CommandTimeout bounds each run_command invocation.
	CommandTimeout time.Duration

	// MaxOutput caps run_command output, in characters.
	MaxOutput int

	// ShellEnabled registers run_command.
	ShellEnabled bool

	// DeniedCommands are program names run_command refuses to start.
	DeniedCommands []string

	// SearchMaxResults caps the number of search_code matches.
	SearchMaxResults int

	// MaxFileBytes is the largest file read_file and search_code will open.
	MaxFileBytes int64
}

// DefaultConfig returns the default tool configuration.
func DefaultConfig() Config {
	return Config{
		CommandTimeout:   30 * time.Second,
		MaxOutput:        2000,
		ShellEnabled:     true,
		DeniedCommands:   DefaultDeniedCommands,
		SearchMaxResults: 50,
		MaxFileBytes:     1 << 20,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = def.CommandTimeout
	}
	if c.MaxOutput <= 0 {
		c.MaxOutput = def.MaxOutput
	}
	if c.DeniedCommands == nil {
		c.DeniedCommands = def.DeniedCommands
	}
	if c.SearchMaxResults <= 0 {
		c.SearchMaxResults = def.SearchMaxResults
	}
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = def.MaxFileBytes
	}
	return c
}

var pathParam = Param{Name: "path", Description: "File path relative to repo root", Required: true}

// NewDefaultRegistry registers the built-in tools.
func NewDefaultRegistry(cfg Config) *Registry {
	cfg = cfg.withDefaults()
	r := NewRegistry()

	specs := []*Spec{
		{
			Name:        "read_file",
			Description: "Read the contents of a file",
			Category:    CategoryFiles,
			Params:      []Param{pathParam},
			ReadOnly:    true,
			Handler:     readFile(cfg.MaxFileBytes),
		},
		{
			Name:        "write_file",
			Description: "Write content to a file. Creates parent directories if needed.",
			Category:    CategoryFiles,
			Params: []Param{
				pathParam,
				{Name: "content", Description: "Content to write to the file", Required: true},
			},
			Handler: writeFile,
		},
		{
			Name:        "delete_file",
			Description: "Delete a file from the filesystem",
			Category:    CategoryFiles,
			Params:      []Param{pathParam},
			Handler:     deleteFile,
		},
		{
			Name:        "list_directory",
			Description: "List contents of a directory",
			Category:    CategoryFiles,
			Params:      []Param{{Name: "path", Description: "Directory path relative to repo root", Required: true}},
			ReadOnly:    true,
			Handler:     listDirectory,
		},
		{
			Name:        "search_code",
			Description: "Search for a string/pattern in files. Returns matching lines with file paths and line numbers. Use this to find relevant code without reading entire files.",
			Category:    CategorySearch,
			Params: []Param{
				{Name: "query", Description: "The text or pattern to search for", Required: true},
				{Name: "file_pattern", Description: "File pattern to search (e.g., '*.py', '*.ts'). Defaults to '*' for all files."},
			},
			ReadOnly: true,
			Handler:  searchCode(cfg.SearchMaxResults, cfg.MaxFileBytes),
		},
	}

	if cfg.ShellEnabled {
		specs = append(specs, &Spec{
			Name:        "run_command",
			Description: "Run a shell command and return output",
			Category:    CategoryShell,
			Params:      []Param{{Name: "command", Description: "Shell command to execute", Required: true}},
			ReadOnly:    true,
			Handler:     runCommand(NewShellPolicy(cfg.DeniedCommands), cfg.CommandTimeout, cfg.MaxOutput),
		})
	}

	specs = append(specs,
		&Spec{
			Name:        "index_symbols",
			Description: "Get a summary of code symbols (classes, functions, methods) in the codebase. Use this to understand code structure quickly.",
			Category:    CategorySymbols,
			Params: []Param{{
				Name:        "kind",
				Description: "Filter by kind: 'class', 'function', 'method', 'import'. Omit for summary.",
			}},
			ReadOnly: true,
			Handler:  indexSymbols,
		},
		&Spec{
			Name:        "find_symbol",
			Description: "Search for symbols by name. Returns matching classes, functions, methods with their locations.",
			Category:    CategorySymbols,
			Params:      []Param{{Name: "name", Description: "Symbol name to search for (partial match)", Required: true}},
			ReadOnly:    true,
			Handler:     findSymbol,
		},
	)

	for _, spec := range specs {
		// Names are fixed above, so registration cannot collide.
		_ = r.Register(spec)
	}
	return r
}
