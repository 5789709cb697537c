// Package config handles YAML config file loading for the scriptcover CLI.
package config

import (
	"os"
	"regexp"
	"slices"
	"strings"
)

// envVarPattern matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?:(:-|:\?)([^}]*))?\}`)

// MissingEnvError lists the required variables that were unset or empty,
// in order of first appearance.
type MissingEnvError struct {
	Vars     []string
	Messages []string
}

func (e *MissingEnvError) Error() string {
	parts := make([]string, len(e.Vars))
	for i, v := range e.Vars {
		parts[i] = v
		if e.Messages[i] != "" {
			parts[i] += " (" + e.Messages[i] + ")"
		}
	}
	return "required environment variable not set: " + strings.Join(parts, ", ")
}

// ExpandEnv replaces variable references in input:
//   - ${VAR} expands to the value, or empty if unset
//   - ${VAR:-default} uses default when VAR is unset or empty
//   - ${VAR:?message} fails the expansion when VAR is unset or empty
//
// Lines that are YAML comments are left alone, so a commented-out
// ${SECRET:?...} does not make the file unloadable.
func ExpandEnv(input string) (string, error) {
	var missing MissingEnvError
	lines := strings.SplitAfter(input, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		lines[i] = envVarPattern.ReplaceAllStringFunc(line, func(match string) string {
			groups := envVarPattern.FindStringSubmatch(match)
			name, op, arg := groups[1], groups[2], groups[3]
			if value, ok := os.LookupEnv(name); ok && value != "" {
				return value
			}
			switch op {
			case ":-":
				return arg
			case ":?":
				if !slices.Contains(missing.Vars, name) {
					missing.Vars = append(missing.Vars, name)
					missing.Messages = append(missing.Messages, arg)
				}
			}
			return ""
		})
	}
	if len(missing.Vars) > 0 {
		return "", &missing
	}
	return strings.Join(lines, ""), nil
}
