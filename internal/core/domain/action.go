package domain

import "strings"

// =============================================================================
// Actions
// =============================================================================

// Verb identifies what an inbound action asks the engine to do. Raw action
// strings arrive either as a plain token ("launch_all") or as a compound
// "<verb>::<arg1>[::<arg2>...]"; ParseAction converts them to this closed
// set so the dispatcher is a single switch.
type Verb string

const (
	VerbStatus            Verb = "status"
	VerbLaunchAll         Verb = "launch_all"
	VerbSettings          Verb = "settings"
	VerbLogs              Verb = "logs"
	VerbShowLogs          Verb = "show_logs"
	VerbFixContainer      Verb = "fix_container"
	VerbRestartContainer  Verb = "restart_container"
	VerbDiagPort          Verb = "diag_port"
	VerbAIAnalyze         Verb = "ai_analyze"
	VerbSaveEnvVar        Verb = "save_env_var"
	VerbSaveEnvVars       Verb = "save_env_vars"
	VerbRunSuggestedCmd   Verb = "run_suggested_cmd"
	VerbFixNetworkOverlap Verb = "fix_network_overlap"
	VerbFixAcmeStorage    Verb = "fix_acme_storage"
	VerbSSHInfo           Verb = "ssh_info"
	VerbRunSSHCmd         Verb = "run_ssh_cmd"

	// VerbLLMQuery is the fallback for tokens no other verb claims; the raw
	// text is carried in Args[0] and routed to the language model.
	VerbLLMQuery Verb = "llm_query"
)

// compoundVerbs are the verbs that accept "::"-separated arguments.
var compoundVerbs = map[Verb]bool{
	VerbLogs:              true,
	VerbShowLogs:          true,
	VerbFixContainer:      true,
	VerbRestartContainer:  true,
	VerbDiagPort:          true,
	VerbAIAnalyze:         true,
	VerbSaveEnvVar:        true,
	VerbRunSuggestedCmd:   true,
	VerbFixNetworkOverlap: true,
	VerbSSHInfo:           true,
	VerbRunSSHCmd:         true,
	VerbSettings:          true,
}

// plainVerbs are the bare tokens with no arguments.
var plainVerbs = map[Verb]bool{
	VerbStatus:         true,
	VerbLaunchAll:      true,
	VerbSettings:       true,
	VerbSaveEnvVars:    true,
	VerbFixAcmeStorage: true,
}

// Action is a parsed inbound command with its form payload.
type Action struct {
	Verb Verb
	Args []string
	Form map[string]string
	Raw  string
}

// Arg returns the i-th argument or "".
func (a Action) Arg(i int) string {
	if i < 0 || i >= len(a.Args) {
		return ""
	}
	return a.Args[i]
}

// ParseAction converts a raw action value into an Action. Unknown tokens
// become VerbLLMQuery carrying the raw text.
func ParseAction(raw string, form map[string]string) Action {
	raw = strings.TrimSpace(raw)
	a := Action{Form: form, Raw: raw}

	if idx := strings.Index(raw, "::"); idx >= 0 {
		verb := Verb(raw[:idx])
		if compoundVerbs[verb] {
			a.Verb = verb
			rest := raw[idx+2:]
			// "fix_network_overlap::" is valid: the single argument is empty,
			// meaning "no network name known".
			a.Args = strings.Split(rest, "::")
			return a
		}
	} else if plainVerbs[Verb(raw)] {
		a.Verb = Verb(raw)
		return a
	}

	a.Verb = VerbLLMQuery
	a.Args = []string{raw}
	return a
}
