package pattern

import (
	"strings"

	"github.com/dockfra/dockfra/internal/core/domain"
)

// =============================================================================
// Matcher
// =============================================================================

// Config configures a Matcher. Zero values fall back to the built-in
// catalogs and no restart targets.
type Config struct {
	Health       []HealthPattern
	ConfigErrors []ConfigErrorPattern

	// RestartTargets are service names offered as "Restart <name>" buttons
	// when an unset variable is detected; typically the compose project's
	// services.
	RestartTargets []string
}

// Matcher classifies raw output lines against the ordered catalogs.
// Immutable after construction; safe for concurrent use.
type Matcher struct {
	health         []HealthPattern
	configErrors   []ConfigErrorPattern
	restartTargets []string
}

// NewMatcher builds a matcher. All regexes are compiled ahead of time in the
// catalogs, so matching allocates nothing beyond the result.
func NewMatcher(cfg Config) *Matcher {
	m := &Matcher{
		health:         cfg.Health,
		configErrors:   cfg.ConfigErrors,
		restartTargets: cfg.RestartTargets,
	}
	if m.health == nil {
		m.health = HealthCatalog()
	}
	if m.configErrors == nil {
		m.configErrors = ConfigErrorCatalog()
	}
	return m
}

// MatchLine returns the first rule matching text, or nil. The health catalog
// is consulted before the config-error catalog. A rule fires at most once
// per fired set: a line re-matching an already-fired rule returns nil.
func (m *Matcher) MatchLine(text string, fired FiredSet) *MatchResult {
	return m.match(text, fired)
}

// MatchMultiline runs the same algorithm over a multi-line blob, typically a
// container log tail.
func (m *Matcher) MatchMultiline(blob string, fired FiredSet) *MatchResult {
	return m.match(blob, fired)
}

func (m *Matcher) match(text string, fired FiredSet) *MatchResult {
	for i := range m.health {
		rule := &m.health[i]
		groups := rule.Regex.FindStringSubmatch(text)
		if groups == nil {
			continue
		}
		key := fingerprint(KindHealth, rule.Regex)
		if fired.fired(key) {
			return nil
		}
		fired.mark(key)
		return m.buildHealthResult(rule, text, groups)
	}

	for i := range m.configErrors {
		rule := &m.configErrors[i]
		groups := rule.Regex.FindStringSubmatch(text)
		if groups == nil {
			continue
		}
		key := fingerprint(KindConfigError, rule.Regex)
		if fired.fired(key) {
			return nil
		}
		fired.mark(key)
		return m.buildConfigResult(rule, groups)
	}

	return nil
}

// =============================================================================
// Health Results
// =============================================================================

func (m *Matcher) buildHealthResult(rule *HealthPattern, text string, groups []string) *MatchResult {
	res := &MatchResult{
		Kind:       KindHealth,
		Severity:   rule.Severity,
		MessageKey: rule.MessageKey,
		solutions:  rule.Solutions,
	}

	// Capture group 1 is a port when numeric, otherwise a variable name.
	if len(groups) > 1 && groups[1] != "" {
		if isDigits(groups[1]) {
			res.Port = groups[1]
		} else {
			res.Variable = groups[1]
		}
	}

	// Secondary scan for the network name; the overlap message itself does
	// not carry it.
	if nm := networkNameRe.FindStringSubmatch(text); nm != nil {
		res.Network = strings.TrimSuffix(nm[1], ":")
	}

	res.Message = res.substitute(Message(rule.MessageKey), res.Variable)
	res.Widgets = m.synthesizeHealthWidgets(rule, res)
	return res
}

// synthesizeHealthWidgets applies the widget rules keyed by the matched
// rule's action templates.
func (m *Matcher) synthesizeHealthWidgets(rule *HealthPattern, res *MatchResult) []domain.Widget {
	switch {
	case hasTemplate(rule, "fix_acme_storage"):
		return []domain.Widget{
			domain.Input{
				Name:  "ACME_STORAGE",
				Label: "ACME storage path",
				Value: "letsencrypt/acme.json",
			},
			domain.Buttons{Items: []domain.Button{
				{Label: Message("action.apply_fix"), Value: "fix_acme_storage"},
				{Label: Message("action.open_settings"), Value: "settings"},
			}},
		}

	case hasTemplatePrefix(rule, "fix_network_overlap::"):
		items := []domain.Button{}
		if res.Network != "" {
			items = append(items, domain.Button{
				Label: "Remove network " + res.Network,
				Value: "fix_network_overlap::" + res.Network,
			})
		}
		items = append(items, domain.Button{
			Label: Message("action.clean_networks"),
			Value: "fix_network_overlap::",
		})
		return []domain.Widget{domain.Buttons{Items: items}}

	case res.Variable != "":
		return m.variableWidgets(res.Variable)

	default:
		buttons := res.SolutionButtons("")
		if len(buttons) == 0 {
			return nil
		}
		return []domain.Widget{domain.Buttons{Items: buttons}}
	}
}

// variableWidgets builds the inline input and button row for an unset
// variable: the input with inferred chips, a save button, the settings
// shortcuts, and a restart button per configured target.
func (m *Matcher) variableWidgets(name string) []domain.Widget {
	field := InferField(name)
	input := domain.Input{
		Name:        field.Name,
		Label:       field.Label,
		Placeholder: field.Placeholder,
		Secret:      field.Type == "password",
	}
	for _, c := range field.Chips {
		input.Chips = append(input.Chips, domain.Chip{Label: c})
	}

	items := []domain.Button{
		{Label: "Save " + name, Value: "save_env_var::" + name},
		{Label: Message("action.open_settings"), Value: "settings"},
	}
	if group := SettingsGroupFor(name); group != "" {
		items = append(items, domain.Button{
			Label: Message("action.open_settings") + " → " + group,
			Value: "settings::" + group,
		})
	}
	for _, target := range m.restartTargets {
		items = append(items, domain.Button{
			Label: "Restart " + target,
			Value: "restart_container::" + target,
		})
	}

	return []domain.Widget{input, domain.Buttons{Items: items}}
}

// =============================================================================
// Config-Error Results
// =============================================================================

func (m *Matcher) buildConfigResult(rule *ConfigErrorPattern, groups []string) *MatchResult {
	res := &MatchResult{
		Kind:          KindConfigError,
		Severity:      rule.Severity,
		MessageKey:    rule.MessageKey,
		SettingsGroup: rule.SettingsGroup,
		solutions:     rule.Solutions,
	}

	fields := rule.Fields
	if len(fields) == 0 && len(groups) > 1 && LooksLikeEnvVar(groups[1]) {
		res.Variable = groups[1]
		fields = []domain.Field{InferField(groups[1])}
		if res.SettingsGroup == "" {
			res.SettingsGroup = SettingsGroupFor(groups[1])
		}
	}

	res.Message = res.substitute(Message(rule.MessageKey), res.Variable)
	res.Widgets = []domain.Widget{domain.ConfigPrompt{
		Title:         rule.Title,
		Desc:          rule.Description,
		Fields:        fields,
		SettingsGroup: res.SettingsGroup,
		Action:        "launch_all",
		SaveAction:    "save_env_vars",
	}}
	return res
}

// =============================================================================
// Placeholder Substitution
// =============================================================================

// SolutionButtons resolves the matched rule's solutions into buttons,
// substituting __PORT__, __NETWORK__ and __NAME__ (the container name; empty
// in streaming context). A solution whose label or value still carries a
// placeholder is dropped so the user never sees a literal __PORT__ or a
// button targeting no container.
func (r *MatchResult) SolutionButtons(containerName string) []domain.Button {
	var out []domain.Button
	for _, s := range r.solutions {
		label := r.resolve(Message(s.LabelKey), containerName)
		value := r.resolve(s.ActionTemplate, containerName)
		if strings.Contains(label, "__") || strings.Contains(value, "__") {
			continue
		}
		out = append(out, domain.Button{Label: label, Value: value})
	}
	return out
}

// substitute fills placeholders for message text; a missing capture becomes
// an empty string.
func (r *MatchResult) substitute(tmpl, name string) string {
	rep := strings.NewReplacer(
		"__PORT__", r.Port,
		"__NETWORK__", r.Network,
		"__NAME__", name,
	)
	return rep.Replace(tmpl)
}

// resolve fills placeholders for solution templates. Placeholders with no
// capture are left in place so SolutionButtons drops the whole solution
// instead of emitting a half-built action.
func (r *MatchResult) resolve(tmpl, name string) string {
	var pairs []string
	for _, p := range [...][2]string{
		{"__PORT__", r.Port},
		{"__NETWORK__", r.Network},
		{"__NAME__", name},
	} {
		if p[1] != "" {
			pairs = append(pairs, p[0], p[1])
		}
	}
	if len(pairs) == 0 {
		return tmpl
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func hasTemplate(rule *HealthPattern, tmpl string) bool {
	for _, s := range rule.Solutions {
		if s.ActionTemplate == tmpl {
			return true
		}
	}
	return false
}

func hasTemplatePrefix(rule *HealthPattern, prefix string) bool {
	for _, s := range rule.Solutions {
		if strings.HasPrefix(s.ActionTemplate, prefix) {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
