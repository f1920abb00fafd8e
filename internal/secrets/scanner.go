package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Scrubber detects and redacts secrets from content.
type Scrubber interface {
	// Scrub redacts secrets from the content.
	Scrub(content string) *Result

	// Check detects secrets without redacting.
	Check(content string) *Result

	// CheckFile is Check with the path allowlist applied.
	CheckFile(path, content string) *Result

	// IsEnabled returns whether scanning is enabled.
	IsEnabled() bool
}

// Finding is one detected secret.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Path        string `json:"path,omitempty"`
	Line        int    `json:"line"`

	// Secret is the matched value. It is never serialized.
	Secret string `json:"-"`
}

// Result is the outcome of a scan.
type Result struct {
	Scrubbed string    `json:"-"`
	Findings []Finding `json:"findings"`
}

// HasFindings reports whether any secret was detected.
func (r *Result) HasFindings() bool {
	return r != nil && len(r.Findings) > 0
}

// RuleIDs returns the distinct rules that fired, sorted.
func (r *Result) RuleIDs() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, f := range r.Findings {
		if !seen[f.RuleID] {
			seen[f.RuleID] = true
			ids = append(ids, f.RuleID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Summary returns a one-line description safe to log.
func (r *Result) Summary() string {
	if !r.HasFindings() {
		return "no secrets detected"
	}
	return fmt.Sprintf("%d secret(s) detected: %s", len(r.Findings), strings.Join(r.RuleIDs(), ", "))
}

// Config controls the scanner.
type Config struct {
	Enabled bool `koanf:"enabled"`

	// AllowlistPath is an optional user allowlist file.
	AllowlistPath string `koanf:"allowlist_path"`
}

// Scanner is the gitleaks-backed Scrubber. The detector is built once and
// reused; calls are serialized because it accumulates findings internally.
type Scanner struct {
	enabled bool
	paths   []*regexp.Regexp

	mu       sync.Mutex
	detector *detect.Detector
}

var _ Scrubber = (*Scanner)(nil)

// New builds a scanner. allow may be nil.
func New(cfg Config, allow *Allowlist) (*Scanner, error) {
	s := &Scanner{enabled: cfg.Enabled}
	if !cfg.Enabled {
		return s, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating detector: %w", err)
	}
	if !allow.Empty() {
		if err := applyAllowlist(&detector.Config, allow); err != nil {
			return nil, err
		}
		for _, p := range allow.Paths {
			s.paths = append(s.paths, regexp.MustCompile(p))
		}
	}
	s.detector = detector
	return s, nil
}

// MustNew is New that panics on error.
func MustNew(cfg Config, allow *Allowlist) *Scanner {
	s, err := New(cfg, allow)
	if err != nil {
		panic(err)
	}
	return s
}

// IsEnabled returns whether scanning is enabled.
func (s *Scanner) IsEnabled() bool {
	return s != nil && s.enabled
}

// Check detects secrets without redacting.
func (s *Scanner) Check(content string) *Result {
	return &Result{Scrubbed: content, Findings: s.detect(content)}
}

// CheckFile detects secrets in a file's content unless the path is
// allowlisted.
func (s *Scanner) CheckFile(path, content string) *Result {
	for _, re := range s.paths {
		if re.MatchString(path) {
			return &Result{Scrubbed: content}
		}
	}
	res := s.Check(content)
	for i := range res.Findings {
		res.Findings[i].Path = path
	}
	return res
}

// Scrub replaces every detected secret with a [REDACTED:<rule>] marker.
func (s *Scanner) Scrub(content string) *Result {
	findings := s.detect(content)
	return &Result{Scrubbed: redact(content, findings), Findings: findings}
}

func (s *Scanner) detect(content string) []Finding {
	if !s.IsEnabled() || content == "" {
		return nil
	}

	s.mu.Lock()
	raw := s.detector.DetectString(content)
	s.mu.Unlock()

	findings := make([]Finding, 0, len(raw))
	for _, f := range raw {
		findings = append(findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
			Secret:      f.Secret,
		})
	}
	return findings
}

// redact replaces longer secrets first so that a secret containing another
// is not left half redacted.
func redact(content string, findings []Finding) string {
	if len(findings) == 0 {
		return content
	}
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Secret) > len(sorted[j].Secret)
	})
	for _, f := range sorted {
		if f.Secret == "" {
			continue
		}
		content = strings.ReplaceAll(content, f.Secret, "[REDACTED:"+f.RuleID+"]")
	}
	return content
}

func applyAllowlist(cfg *gitleaksConfig.Config, allow *Allowlist) error {
	global := &gitleaksConfig.Allowlist{Description: "koda project/user allowlist"}

	for _, pattern := range allow.Paths {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidRegex, pattern, err)
		}
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(re))
	}
	for _, pattern := range allow.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidRegex, pattern, err)
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, allow.Regexes...)

	cfg.Allowlists = append(cfg.Allowlists, global)
	return nil
}
