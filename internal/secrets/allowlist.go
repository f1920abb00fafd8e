package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// ProjectAllowlistFile is looked up at the root of the scanned repository.
const ProjectAllowlistFile = ".gitleaks.toml"

// Allowlist holds path and content patterns excluded from detection.
type Allowlist struct {
	Paths   []string // file path regexes
	Regexes []string // content regexes
}

// Empty reports whether the allowlist has no patterns.
func (a *Allowlist) Empty() bool {
	return a == nil || (len(a.Paths) == 0 && len(a.Regexes) == 0)
}

// LoadAllowlists merges the project and user allowlists. Missing files are
// skipped; a file that exists but is malformed is an error.
//
// projectDir: directory holding .gitleaks.toml (empty to skip)
// userPath: full path to a user allowlist file (empty to skip)
func LoadAllowlists(projectDir, userPath string) (*Allowlist, error) {
	merged := &Allowlist{Paths: []string{}, Regexes: []string{}}

	var files []string
	if projectDir != "" {
		files = append(files, filepath.Join(projectDir, ProjectAllowlistFile))
	}
	if userPath != "" {
		files = append(files, userPath)
	}

	for _, path := range files {
		a, err := loadTOML(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		merged.Paths = append(merged.Paths, a.Paths...)
		merged.Regexes = append(merged.Regexes, a.Regexes...)
	}
	return merged, nil
}

func loadTOML(path string) (*Allowlist, error) {
	var doc struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, pattern := range doc.Allowlist.Paths {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: invalid path pattern '%s' in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}
	for _, pattern := range doc.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: invalid content pattern '%s' in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}

	return &Allowlist{Paths: doc.Allowlist.Paths, Regexes: doc.Allowlist.Regexes}, nil
}
