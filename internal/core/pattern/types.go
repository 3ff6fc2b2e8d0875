// Package pattern holds the diagnostic rule catalogs and the line matcher.
// Following ADR-002: Values as Boundaries - this package contains NO I/O.
// Catalogs are built once at process start and never mutated.
package pattern

import (
	"regexp"

	"github.com/dockfra/dockfra/internal/core/domain"
)

// =============================================================================
// Rule Types
// =============================================================================

// Severity classifies a matched line.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Kind distinguishes the two catalogs.
type Kind string

const (
	KindHealth      Kind = "health"
	KindConfigError Kind = "config_error"
)

// SolutionTemplate is a remediation offer before placeholder substitution.
// ActionTemplate may contain __PORT__, __NAME__ and __NETWORK__; a solution
// whose label or value still carries a placeholder after substitution is
// dropped so the user never sees one.
type SolutionTemplate struct {
	LabelKey       string
	ActionTemplate string
}

// HealthPattern is one immutable rule in the health catalog. The regex may
// contain one capture group holding a port, variable or similar token.
type HealthPattern struct {
	Regex      *regexp.Regexp
	Severity   Severity
	MessageKey string
	Solutions  []SolutionTemplate
}

// ConfigErrorPattern extends HealthPattern with the information the client
// needs to open the right settings editor. If Fields is empty and the regex
// captured something that looks like an env variable name, a single field is
// auto-generated for it.
type ConfigErrorPattern struct {
	HealthPattern
	Title         string
	Description   string
	Fields        []domain.Field
	SettingsGroup string
}

// =============================================================================
// Match Result
// =============================================================================

// MatchResult is the matcher's verdict for one line: at most one rule fires.
// The matcher never emits events - it returns structured output and the
// orchestrator decides what to do with it.
type MatchResult struct {
	Kind       Kind
	Severity   Severity
	MessageKey string
	Message    string // resolved human text

	// Extracted captures; empty when not present in the line.
	Port     string
	Network  string
	Variable string

	// Widgets to show, in order. Synthesized per the rule's action template.
	Widgets []domain.Widget

	// SettingsGroup hints which editor section to open (config rules only).
	SettingsGroup string

	// solutions are the matched rule's raw templates; resolved on demand by
	// SolutionButtons once the container name is known.
	solutions []SolutionTemplate
}

// =============================================================================
// Fired Set
// =============================================================================

// FiredSet tracks which rules already fired during one run. A rule fires at
// most once per run for the same key.
type FiredSet map[string]struct{}

// NewFiredSet returns an empty per-run scratch set.
func NewFiredSet() FiredSet {
	return make(FiredSet)
}

// fingerprint keys a rule by kind plus the first 40 characters of its regex.
func fingerprint(kind Kind, re *regexp.Regexp) string {
	src := re.String()
	if len(src) > 40 {
		src = src[:40]
	}
	return string(kind) + ":" + src
}

func (f FiredSet) fired(key string) bool {
	_, ok := f[key]
	return ok
}

func (f FiredSet) mark(key string) {
	f[key] = struct{}{}
}
