// Package secrets detects and redacts credentials using the gitleaks rule set.
//
// Staged changes are scanned before approval, and tool results are scrubbed
// before they leave the process as events. Findings keep the rule ID and line
// so callers can report what was caught without echoing the secret itself.
//
// Allowlists are read from the project's .gitleaks.toml and an optional user
// file, merged with union semantics:
//
//	[allowlist]
//	paths = ['''testdata/.*''']
//	regexes = ['''EXAMPLE_KEY''']
package secrets
