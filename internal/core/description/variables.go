package description

import "regexp"

// =============================================================================
// Variable Substitution Functions
// =============================================================================

// varPlaceholderRegex matches ${VAR} and ${VAR:-default} patterns.
// Groups:
//   - Group 1: Variable name (required)
//   - Group 2: ":-" marker, present when a default is given
//   - Group 3: Default value (may be empty)
var varPlaceholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// SubstituteVariables replaces ${VAR} and ${VAR:-default} placeholders with values
// from the variables map.
//
// Behavior:
//   - ${VAR} - replaced with variables["VAR"] if exists, otherwise kept as-is
//   - ${VAR:-default} - replaced with variables["VAR"] if exists, otherwise "default"
//   - Unmatched text is left unchanged
//
// Examples:
//
//	SubstituteVariables("${RU_HOST}", map[string]string{"RU_HOST": "np04-srv-001"})
//	// Returns: "np04-srv-001"
//
//	SubstituteVariables("${PARTITION:-test}", map[string]string{})
//	// Returns: "test"
//
//	SubstituteVariables("${MISSING}", map[string]string{})
//	// Returns: "${MISSING}"
func SubstituteVariables(value string, variables map[string]string) string {
	return varPlaceholderRegex.ReplaceAllStringFunc(value, func(match string) string {
		submatch := varPlaceholderRegex.FindStringSubmatch(match)
		if val, ok := variables[submatch[1]]; ok {
			return val
		}
		if submatch[2] != "" {
			return submatch[3]
		}
		return match
	})
}

// ExtractVariables returns the unique placeholder names in content, in order
// of first appearance.
func ExtractVariables(content string) []string {
	seen := make(map[string]bool)
	var vars []string

	for _, match := range varPlaceholderRegex.FindAllStringSubmatch(content, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true
			vars = append(vars, match[1])
		}
	}
	return vars
}
