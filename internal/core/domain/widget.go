package domain

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// Widget Sum Type
// =============================================================================

// Widget is a structured UI instruction carried inside a "widget" event.
// The wire shape is a flat JSON object with a "type" discriminator; in code
// the variant is explicit.
type Widget interface {
	WidgetType() string
}

// Widget type discriminators.
const (
	WidgetButtons      = "buttons"
	WidgetInput        = "input"
	WidgetSelect       = "select"
	WidgetCode         = "code"
	WidgetStatusRow    = "status_row"
	WidgetProgress     = "progress"
	WidgetActionGrid   = "action_grid"
	WidgetConfigPrompt = "config_prompt"
)

// Button is one clickable item in a Buttons row.
type Button struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Buttons is a row of action buttons.
type Buttons struct {
	Label string   `json:"label,omitempty"`
	Items []Button `json:"items"`
}

func (Buttons) WidgetType() string { return WidgetButtons }

// Chip is a suggested value shown next to an input.
type Chip struct {
	Label string `json:"label"`
	Value string `json:"value,omitempty"`
}

// Input is a single inline form field.
type Input struct {
	Name        string `json:"name"`
	Label       string `json:"label,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Value       string `json:"value,omitempty"`
	Secret      bool   `json:"secret,omitempty"`
	Hint        string `json:"hint,omitempty"`
	Chips       []Chip `json:"chips,omitempty"`
	ModalType   string `json:"modal_type,omitempty"`
	Desc        string `json:"desc,omitempty"`
	Autodetect  bool   `json:"autodetect,omitempty"`
	HelpURL     string `json:"help_url,omitempty"`
}

func (Input) WidgetType() string { return WidgetInput }

// Option is one choice in a Select.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Select is a dropdown field.
type Select struct {
	Name       string   `json:"name"`
	Label      string   `json:"label,omitempty"`
	Options    []Option `json:"options"`
	Value      string   `json:"value,omitempty"`
	Desc       string   `json:"desc,omitempty"`
	Autodetect bool     `json:"autodetect,omitempty"`
}

func (Select) WidgetType() string { return WidgetSelect }

// Code is a fenced code block.
type Code struct {
	Text string `json:"text"`
}

func (Code) WidgetType() string { return WidgetCode }

// StatusItem is one row in a StatusRow.
type StatusItem struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// StatusRow summarizes the state of several named items.
type StatusRow struct {
	Items []StatusItem `json:"items"`
}

func (StatusRow) WidgetType() string { return WidgetStatusRow }

// Progress reports the state of a long-running step.
type Progress struct {
	Label string `json:"label"`
	Done  bool   `json:"done"`
	Error bool   `json:"error"`
}

func (Progress) WidgetType() string { return WidgetProgress }

// GridCommand is one entry in an ActionGrid.
type GridCommand struct {
	Cmd             string   `json:"cmd"`
	Desc            string   `json:"desc,omitempty"`
	Params          []string `json:"params,omitempty"`
	Hint            string   `json:"hint,omitempty"`
	Placeholder     string   `json:"placeholder,omitempty"`
	OptionsEndpoint string   `json:"options_endpoint,omitempty"`
	TTY             bool     `json:"tty,omitempty"`
}

// ActionGrid offers a set of runnable commands.
type ActionGrid struct {
	RunValue string        `json:"run_value"`
	Commands []GridCommand `json:"commands"`
	Label    string        `json:"label,omitempty"`
}

func (ActionGrid) WidgetType() string { return WidgetActionGrid }

// Field is one input inside a ConfigPrompt.
type Field struct {
	Name        string   `json:"name"`
	Label       string   `json:"label,omitempty"`
	Type        string   `json:"type"` // "text" or "password"
	Placeholder string   `json:"placeholder,omitempty"`
	Chips       []string `json:"chips,omitempty"`
}

// ConfigPrompt asks the user to fill in configuration before retrying.
type ConfigPrompt struct {
	Title         string  `json:"title"`
	Desc          string  `json:"desc,omitempty"`
	Fields        []Field `json:"fields"`
	SettingsGroup string  `json:"settings_group,omitempty"`
	Action        string  `json:"action,omitempty"`
	SaveAction    string  `json:"save_action,omitempty"`
}

func (ConfigPrompt) WidgetType() string { return WidgetConfigPrompt }

// =============================================================================
// Wire Encoding
// =============================================================================

// EncodeWidget flattens a widget into the wire payload of a "widget" event:
// the variant's fields plus a "type" discriminator.
func EncodeWidget(w Widget) (map[string]any, error) {
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode widget: %w", err)
	}
	out := make(map[string]any)
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("encode widget: %w", err)
	}
	out["type"] = w.WidgetType()
	return out, nil
}

// DecodeWidget rebuilds the typed variant from a wire payload.
func DecodeWidget(data map[string]any) (Widget, error) {
	kind, _ := data["type"].(string)
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode widget: %w", err)
	}

	var w Widget
	switch kind {
	case WidgetButtons:
		w = &Buttons{}
	case WidgetInput:
		w = &Input{}
	case WidgetSelect:
		w = &Select{}
	case WidgetCode:
		w = &Code{}
	case WidgetStatusRow:
		w = &StatusRow{}
	case WidgetProgress:
		w = &Progress{}
	case WidgetActionGrid:
		w = &ActionGrid{}
	case WidgetConfigPrompt:
		w = &ConfigPrompt{}
	default:
		return nil, fmt.Errorf("decode widget: unknown type %q", kind)
	}
	if err := json.Unmarshal(b, w); err != nil {
		return nil, fmt.Errorf("decode widget %s: %w", kind, err)
	}
	return deref(w), nil
}

func deref(w Widget) Widget {
	switch v := w.(type) {
	case *Buttons:
		return *v
	case *Input:
		return *v
	case *Select:
		return *v
	case *Code:
		return *v
	case *StatusRow:
		return *v
	case *Progress:
		return *v
	case *ActionGrid:
		return *v
	case *ConfigPrompt:
		return *v
	}
	return w
}
