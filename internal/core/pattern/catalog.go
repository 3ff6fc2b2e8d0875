package pattern

import (
	"regexp"
	"strings"

	"github.com/dockfra/dockfra/internal/core/domain"
)

// =============================================================================
// Message Catalog
// =============================================================================

// messages maps i18n keys to English text. Placeholders are substituted
// after lookup with the same rules as solution templates.
var messages = map[string]string{
	"health.port_conflict":      "Port __PORT__ is already in use by another process",
	"health.address_in_use":     "Address already in use on port __PORT__",
	"health.network_overlap":    "Docker network address pool overlaps with an existing network",
	"health.variable_unset":     "Environment variable __NAME__ is not set",
	"health.acme_storage":       "Traefik ACME storage is misconfigured (acme.json needs 600 permissions)",
	"health.oom":                "Container was killed: out of memory",
	"health.disk_full":          "No space left on device",
	"health.daemon_unreachable": "Cannot connect to the Docker daemon",
	"health.socket_permission":  "Permission denied on the Docker socket",
	"health.pull_rate_limit":    "Registry pull rate limit reached",
	"health.image_not_found":    "Image not found or pull access denied",
	"health.restart_loop":       "Container is stuck in a restart loop",

	"config.invalid_api_key": "The configured API key was rejected",
	"config.variable_missing": "A required configuration variable is missing",
	"config.database_unreachable": "Cannot reach the database server",
	"config.smtp_auth_failed": "SMTP authentication failed",

	"action.diagnose_port":     "Diagnose port __PORT__",
	"action.save_var":          "Save __NAME__",
	"action.remove_network":    "Remove network __NETWORK__",
	"action.clean_networks":    "Clean all unused",
	"action.restart_container": "Restart container __NAME__",
	"action.show_logs":         "Show logs for __NAME__",
	"action.fix_container":     "Fix __NAME__",
	"action.prune_system":      "Prune unused Docker data",
	"action.start_daemon":      "Start the Docker daemon",
	"action.fix_socket_perms":  "Fix Docker socket permissions",
	"action.retry_pull":        "Retry the pull",
	"action.open_settings":     "Settings",
	"action.apply_fix":         "Apply + Fix",
	"action.analyze_ai":        "Analyze with AI",
	"action.show_full_logs":    "Show full logs",
}

// Message resolves an i18n key; unknown keys come back verbatim so gaps in
// the catalog stay visible instead of silently vanishing.
func Message(key string) string {
	if m, ok := messages[key]; ok {
		return m
	}
	return key
}

// =============================================================================
// Health Catalog
// =============================================================================

// networkNameRe is the secondary scan used to pull the network name out of a
// matched overlap line.
var networkNameRe = regexp.MustCompile(`failed to create network (\S+?):?\s`)

// HealthCatalog returns the ordered health rules. Order is significant: the
// matcher returns the first rule whose regex matches and stops.
func HealthCatalog() []HealthPattern {
	return []HealthPattern{
		{
			Regex:      regexp.MustCompile(`Bind for [\d.]+:(\d+) failed: port is already allocated`),
			Severity:   SeverityError,
			MessageKey: "health.port_conflict",
			Solutions: []SolutionTemplate{
				{LabelKey: "action.diagnose_port", ActionTemplate: "diag_port::__PORT__"},
				{LabelKey: "action.restart_container", ActionTemplate: "restart_container::__NAME__"},
			},
		},
		{
			Regex:      regexp.MustCompile(`listen tcp [\d.]*:(\d+): bind: address already in use`),
			Severity:   SeverityError,
			MessageKey: "health.address_in_use",
			Solutions: []SolutionTemplate{
				{LabelKey: "action.diagnose_port", ActionTemplate: "diag_port::__PORT__"},
			},
		},
		{
			Regex:      regexp.MustCompile(`Pool overlaps with other one on this address space`),
			Severity:   SeverityError,
			MessageKey: "health.network_overlap",
			Solutions: []SolutionTemplate{
				{LabelKey: "action.remove_network", ActionTemplate: "fix_network_overlap::__NETWORK__"},
				{LabelKey: "action.clean_networks", ActionTemplate: "fix_network_overlap::"},
			},
		},
		{
			Regex:      regexp.MustCompile(`"([A-Za-z_][A-Za-z0-9_]*)" variable is not set`),
			Severity:   SeverityWarning,
			MessageKey: "health.variable_unset",
			Solutions: []SolutionTemplate{
				{LabelKey: "action.save_var", ActionTemplate: "save_env_var::__NAME__"},
			},
		},
		{
			Regex:      regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*): unbound variable`),
			Severity:   SeverityError,
			MessageKey: "health.variable_unset",
			Solutions: []SolutionTemplate{
				{LabelKey: "action.save_var", ActionTemplate: "save_env_var::__NAME__"},
			},
		},
		{
			Regex:      regexp.MustCompile(`(?i)acme\.json.*(?:permissions? 600|too open)|unable to get ACME account`),
			Severity:   SeverityError,
			MessageKey: "health.acme_storage",
			Solutions: []SolutionTemplate{
				{LabelKey: "action.apply_fix", ActionTemplate: "fix_acme_storage"},
			},
		},
		{
			Regex:      regexp.MustCompile(`(?i)out of memory|OOMKilled`),
			Severity:   SeverityError,
			MessageKey: "health.oom",
			Solutions: []SolutionTemplate{
				{LabelKey: "action.restart_container", ActionTemplate: "restart_container::__NAME__"},
			},
		},
		{
			Regex:      regexp.MustCompile(`no space left on device`),
			Severity:   SeverityError,
			MessageKey: "health.disk_full",
			Solutions: []SolutionTemplate{
				{LabelKey: "action.prune_system", ActionTemplate: "run_suggested_cmd::docker system prune -af"},
			},
		},
		{
			Regex:      regexp.MustCompile(`permission denied while trying to connect to the Docker daemon socket`),
			Severity:   SeverityError,
			MessageKey: "health.socket_permission",
			Solutions: []SolutionTemplate{
				{LabelKey: "action.fix_socket_perms", ActionTemplate: "run_suggested_cmd::sudo usermod -aG docker $USER"},
			},
		},
		{
			Regex:      regexp.MustCompile(`Cannot connect to the Docker daemon`),
			Severity:   SeverityError,
			MessageKey: "health.daemon_unreachable",
			Solutions: []SolutionTemplate{
				{LabelKey: "action.start_daemon", ActionTemplate: "run_suggested_cmd::sudo systemctl start docker"},
			},
		},
		{
			Regex:      regexp.MustCompile(`(?i)toomanyrequests|pull rate limit`),
			Severity:   SeverityWarning,
			MessageKey: "health.pull_rate_limit",
			Solutions: []SolutionTemplate{
				{LabelKey: "action.retry_pull", ActionTemplate: "launch_all"},
			},
		},
		{
			Regex:      regexp.MustCompile(`(?i)manifest unknown|pull access denied`),
			Severity:   SeverityError,
			MessageKey: "health.image_not_found",
			Solutions: []SolutionTemplate{
				{LabelKey: "action.show_logs", ActionTemplate: "show_logs::__NAME__"},
			},
		},
		{
			Regex:      regexp.MustCompile(`Restarting \(\d+\)`),
			Severity:   SeverityWarning,
			MessageKey: "health.restart_loop",
			Solutions: []SolutionTemplate{
				{LabelKey: "action.show_logs", ActionTemplate: "show_logs::__NAME__"},
				{LabelKey: "action.fix_container", ActionTemplate: "fix_container::__NAME__"},
			},
		},
	}
}

// =============================================================================
// Config-Error Catalog
// =============================================================================

// ConfigErrorCatalog returns the ordered config-error rules, matched after
// the health catalog.
func ConfigErrorCatalog() []ConfigErrorPattern {
	return []ConfigErrorPattern{
		{
			HealthPattern: HealthPattern{
				Regex:      regexp.MustCompile(`(?i)(?:invalid|incorrect) api[_ ]?key|401 Unauthorized`),
				Severity:   SeverityError,
				MessageKey: "config.invalid_api_key",
			},
			Title:       "API key rejected",
			Description: "The upstream service rejected the configured API key.",
			Fields: []domain.Field{
				{Name: "OPENAI_API_KEY", Label: "OpenAI API key", Type: "password", Placeholder: "sk-..."},
			},
			SettingsGroup: "ai",
		},
		{
			HealthPattern: HealthPattern{
				Regex:      regexp.MustCompile(`(?i)environment variable ([A-Z][A-Z0-9_]{2,}) (?:is )?(?:required|missing|not set)`),
				Severity:   SeverityError,
				MessageKey: "config.variable_missing",
			},
			Title:       "Missing configuration",
			Description: "A required variable has no value yet.",
		},
		{
			HealthPattern: HealthPattern{
				Regex:      regexp.MustCompile(`(?i)missing required (?:setting|variable) ([A-Z][A-Z0-9_]{2,})`),
				Severity:   SeverityError,
				MessageKey: "config.variable_missing",
			},
			Title:       "Missing configuration",
			Description: "A required variable has no value yet.",
		},
		{
			HealthPattern: HealthPattern{
				Regex:      regexp.MustCompile(`(?i)(?:connection refused|could not connect to server).{0,80}(?:postgres|mysql|mariadb|database)`),
				Severity:   SeverityError,
				MessageKey: "config.database_unreachable",
			},
			Title:       "Database unreachable",
			Description: "The application could not open a database connection.",
			Fields: []domain.Field{
				{Name: "DB_HOST", Label: "Database host", Type: "text", Placeholder: "db"},
				{Name: "DB_PASSWORD", Label: "Database password", Type: "password"},
			},
			SettingsGroup: "database",
		},
		{
			HealthPattern: HealthPattern{
				Regex:      regexp.MustCompile(`(?i)smtp.{0,40}auth(?:entication)? (?:failed|error)`),
				Severity:   SeverityError,
				MessageKey: "config.smtp_auth_failed",
			},
			Title:       "Mail delivery broken",
			Description: "The SMTP server rejected the configured credentials.",
			Fields: []domain.Field{
				{Name: "SMTP_USER", Label: "SMTP user", Type: "text", Placeholder: "you@example.com"},
				{Name: "SMTP_PASSWORD", Label: "SMTP password", Type: "password"},
			},
			SettingsGroup: "mail",
		},
	}
}

// =============================================================================
// Field Inference
// =============================================================================

// envVarNameRe decides whether a regex capture looks like an env variable.
var envVarNameRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]{2,}$`)

// LooksLikeEnvVar reports whether s has the shape of an environment
// variable name.
func LooksLikeEnvVar(s string) bool {
	return envVarNameRe.MatchString(s)
}

// IsSecretName reports whether a variable name should be captured through a
// password field.
func IsSecretName(name string) bool {
	for _, marker := range []string{"KEY", "TOKEN", "SECRET", "PASSWORD"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

// InferField auto-generates a form field for a bare variable name, inferring
// type, placeholder and value chips from the name's suffix.
func InferField(name string) domain.Field {
	f := domain.Field{Name: name, Label: name, Type: "text"}
	if IsSecretName(name) {
		f.Type = "password"
	}
	switch {
	case strings.HasSuffix(name, "_URL"):
		f.Placeholder = "https://..."
	case strings.HasSuffix(name, "_EMAIL"):
		f.Placeholder = "you@example.com"
	case strings.Contains(name, "PORT"):
		f.Placeholder = "8080"
	case strings.HasSuffix(name, "_ENABLED"):
		f.Chips = []string{"true", "false"}
	case strings.HasSuffix(name, "_INTERVAL"):
		f.Chips = []string{"60", "120", "300"}
	}
	return f
}

// SettingsGroupFor guesses the settings editor section for a variable name.
// Empty string means no hint.
func SettingsGroupFor(name string) string {
	switch {
	case strings.HasPrefix(name, "SMTP_") || strings.HasSuffix(name, "_EMAIL"):
		return "mail"
	case strings.HasPrefix(name, "DB_") || strings.HasPrefix(name, "POSTGRES_") || strings.HasPrefix(name, "MYSQL_"):
		return "database"
	case strings.HasPrefix(name, "OPENAI_") || strings.HasPrefix(name, "LLM_") || strings.HasPrefix(name, "AI_"):
		return "ai"
	}
	return ""
}
