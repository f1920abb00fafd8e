package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/keyur7523/koda/internal/ledger"
	"github.com/keyur7523/koda/internal/secrets"
)

// ViolationType names what a gate found.
type ViolationType string

const (
	ViolationSecretDetected ViolationType = "secret_detected"
	ViolationBundledChanges ViolationType = "bundled_changes"
)

// Severity ranks a violation. Critical violations fail the run.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Violation is one finding reported by a gate before approval.
type Violation struct {
	Type        ViolationType `json:"type"`
	Phase       Phase         `json:"phase"`
	Path        string        `json:"path,omitempty"`
	Description string        `json:"description"`
	Severity    Severity      `json:"severity"`
	DetectedAt  time.Time     `json:"detected_at"`
}

// Gate inspects the staged changes once execution finishes and before the
// run asks for approval.
type Gate interface {
	Name() string
	Check(ctx context.Context, state TaskState, changes []ledger.Change) ([]Violation, error)
}

// SecretGate scans staged content for credentials.
type SecretGate struct {
	scanner secrets.Scrubber
	block   bool
}

// NewSecretGate creates a secret gate. With block set, findings are critical
// and fail the run instead of being attached to the approval request.
func NewSecretGate(scanner secrets.Scrubber, block bool) *SecretGate {
	return &SecretGate{scanner: scanner, block: block}
}

// Name returns the gate identifier
func (g *SecretGate) Name() string {
	return "secret-gate"
}

// Check scans every created or modified file.
func (g *SecretGate) Check(ctx context.Context, state TaskState, changes []ledger.Change) ([]Violation, error) {
	if g.scanner == nil || !g.scanner.IsEnabled() {
		return nil, nil
	}

	severity := SeverityWarning
	if g.block {
		severity = SeverityCritical
	}

	var violations []Violation
	for _, c := range changes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.Kind == ledger.KindDelete {
			continue
		}
		res := g.scanner.CheckFile(c.Path, c.NewContent)
		if !res.HasFindings() {
			continue
		}
		violations = append(violations, Violation{
			Type:        ViolationSecretDetected,
			Phase:       PhaseExecuting,
			Path:        c.Path,
			Description: fmt.Sprintf("%s in %s", res.Summary(), c.Path),
			Severity:    severity,
			DetectedAt:  time.Now(),
		})
	}
	return violations, nil
}

// SizeGate warns when a single run stages more files than a reviewer can
// reasonably check in one diff.
type SizeGate struct {
	maxFiles int
}

// NewSizeGate creates a size gate. maxFiles <= 0 uses 20.
func NewSizeGate(maxFiles int) *SizeGate {
	if maxFiles <= 0 {
		maxFiles = 20
	}
	return &SizeGate{maxFiles: maxFiles}
}

// Name returns the gate identifier
func (g *SizeGate) Name() string {
	return "size-gate"
}

// Check counts staged files.
func (g *SizeGate) Check(ctx context.Context, state TaskState, changes []ledger.Change) ([]Violation, error) {
	if len(changes) <= g.maxFiles {
		return nil, nil
	}
	return []Violation{{
		Type:        ViolationBundledChanges,
		Phase:       PhaseExecuting,
		Description: fmt.Sprintf("%d files staged in one run; consider breaking the task into smaller changes", len(changes)),
		Severity:    SeverityWarning,
		DetectedAt:  time.Now(),
	}}, nil
}

// hasCriticalViolation checks if any violation is critical
func hasCriticalViolation(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// describeViolations creates a summary of violations
func describeViolations(violations []Violation) string {
	if len(violations) == 0 {
		return ""
	}
	var parts []string
	for _, v := range violations {
		parts = append(parts, fmt.Sprintf("[%s] %s", v.Type, v.Description))
	}
	return strings.Join(parts, "; ")
}
