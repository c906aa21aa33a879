// Package resolve expands templated configuration values against the live
// outputs of already-deployed dependencies. This is part of the Functional
// Core - resolution has no side effects and is safe to repeat on retry.
package resolve

import "regexp"

// =============================================================================
// Typed Service References
// =============================================================================

// refPattern matches ${{service.field}} reference tokens.
// Groups:
//   - Group 1: Service name (required)
//   - Group 2: Output field name (required)
var refPattern = regexp.MustCompile(`\$\{\{\s*([A-Za-z0-9][A-Za-z0-9_-]*)\.([A-Za-z0-9_][A-Za-z0-9_.-]*)\s*\}\}`)

// ServiceRef is a typed reference to a live output of another service,
// parsed from a ${{service.field}} token. References are resolved through an
// explicit lookup rather than blind string substitution, so a typo in a
// service or field name is a hard error instead of a silently unexpanded
// value.
type ServiceRef struct {
	Service string
	Field   string
}

// ParseRefs extracts every service reference from a raw configuration value,
// in order of appearance. Returns nil for a pure literal.
func ParseRefs(value string) []ServiceRef {
	matches := refPattern.FindAllStringSubmatch(value, -1)
	if len(matches) == 0 {
		return nil
	}

	refs := make([]ServiceRef, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, ServiceRef{Service: m[1], Field: m[2]})
	}
	return refs
}

// ContainsRef reports whether a raw value contains at least one reference token.
func ContainsRef(value string) bool {
	return refPattern.MatchString(value)
}
