package compose

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// StackInfo is what the diagnostic engine needs to know about the stack it
// supervises: which services exist (restart targets), which networks the
// stack declares, and which environment variables the file references.
type StackInfo struct {
	Services []string
	Networks []string
	EnvVars  []string
}

// interpolationRe finds ${VAR} and ${VAR:-default} references in raw YAML.
var interpolationRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)[^}]*\}`)

// ParseStack parses compose YAML into a StackInfo. Pure function: raw YAML
// in, structured summary out.
func ParseStack(yamlContent string) (*StackInfo, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}

	project, err := loadProject(yamlContent)
	if err != nil {
		return nil, err
	}
	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	info := &StackInfo{
		Services: make([]string, 0, len(project.Services)),
		Networks: make([]string, 0, len(project.Networks)),
	}
	for name := range project.Services {
		info.Services = append(info.Services, name)
	}
	for _, net := range project.Networks {
		name := net.Name
		if name == "" {
			continue
		}
		info.Networks = append(info.Networks, name)
	}
	info.EnvVars = referencedEnvVars(yamlContent)

	sort.Strings(info.Services)
	sort.Strings(info.Networks)
	return info, nil
}

// loadProject loads a compose project entirely in memory.
func loadProject(yamlContent string) (*types.Project, error) {
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("dockfra", false)
		opts.SkipValidation = true
		// Unset variables must not fail introspection; they are exactly
		// what the matcher later diagnoses.
		opts.SkipInterpolation = true
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		return nil, NewParseError("", err.Error(), ErrInvalidYAML)
	}
	return project, nil
}

// referencedEnvVars scans the raw YAML for ${VAR} interpolations, deduped
// and sorted.
func referencedEnvVars(yamlContent string) []string {
	seen := make(map[string]struct{})
	var vars []string
	for _, m := range interpolationRe.FindAllStringSubmatch(yamlContent, -1) {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		vars = append(vars, name)
	}
	sort.Strings(vars)
	return vars
}
