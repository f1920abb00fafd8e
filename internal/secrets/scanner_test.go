package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Gitleaks patterns change between releases, so detection-specific
// assertions only run when the detector reports a finding.
const openAIKey = "sk-proj-abcdefghijklmnopqrstuvwxyz1234567890123456"

func TestScanner_Disabled(t *testing.T) {
	s, err := New(Config{Enabled: false}, nil)
	require.NoError(t, err)

	assert.False(t, s.IsEnabled())
	res := s.Scrub(`const key = "` + openAIKey + `"`)
	assert.False(t, res.HasFindings())
	assert.Contains(t, res.Scrubbed, openAIKey)
}

func TestScanner_CleanContent(t *testing.T) {
	s := MustNew(Config{Enabled: true}, nil)

	res := s.Check("package main\n\nfunc main() {\n\tprintln(\"hello\")\n}\n")
	assert.False(t, res.HasFindings())
	assert.Equal(t, "no secrets detected", res.Summary())
}

func TestScanner_Scrub(t *testing.T) {
	s := MustNew(Config{Enabled: true}, nil)

	content := `const key = "` + openAIKey + `"`
	res := s.Scrub(content)
	if !res.HasFindings() {
		t.Skip("detector did not flag the sample key")
	}

	assert.NotContains(t, res.Scrubbed, openAIKey)
	assert.Contains(t, res.Scrubbed, "[REDACTED:")
	assert.Contains(t, res.Summary(), "secret(s) detected")
	for _, f := range res.Findings {
		assert.NotEmpty(t, f.RuleID)
	}
}

func TestScanner_CheckFileAllowlistedPath(t *testing.T) {
	s := MustNew(Config{Enabled: true}, &Allowlist{Paths: []string{`^testdata/`}})

	res := s.CheckFile("testdata/keys.env", "KEY="+openAIKey)
	assert.False(t, res.HasFindings())

	res = s.CheckFile("config/keys.env", "KEY="+openAIKey)
	for _, f := range res.Findings {
		assert.Equal(t, "config/keys.env", f.Path)
	}
}

func TestScanner_InvalidAllowlist(t *testing.T) {
	_, err := New(Config{Enabled: true}, &Allowlist{Regexes: []string{"[bad"}})
	assert.ErrorIs(t, err, ErrInvalidRegex)
}

func TestRedact_LongestFirst(t *testing.T) {
	findings := []Finding{
		{RuleID: "short", Secret: "abc"},
		{RuleID: "long", Secret: "abcdef"},
	}
	got := redact("x=abcdef y=abc", findings)
	assert.Equal(t, "x=[REDACTED:long] y=[REDACTED:short]", got)
}

func TestResult_RuleIDs(t *testing.T) {
	res := &Result{Findings: []Finding{{RuleID: "b"}, {RuleID: "a"}, {RuleID: "b"}}}
	assert.Equal(t, []string{"a", "b"}, res.RuleIDs())
	assert.True(t, strings.HasPrefix(res.Summary(), "3 secret(s) detected: a, b"))

	var nilResult *Result
	assert.False(t, nilResult.HasFindings())
}
