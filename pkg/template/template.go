// Package template implements sergio's layered variable substitution
// (spec §4.2): a single pass over $id and ${id} placeholders, with
// unknown identifiers preserved verbatim.
package template

import "regexp"

// placeholder matches $id or ${id} where id is a valid identifier.
// The braced form is captured in group 1, the bare form in group 2.
var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// Apply substitutes $id/${id} placeholders in text using scopes, applied
// in order so that later scopes take precedence over earlier ones.
// Callers pass scopes lowest-precedence first: Apply(text, global,
// containerVars, rpcVars) gives rpcVars the final say, matching spec
// §4.2's "rpc_vars > container_vars > global_vars" rule and testable
// property 4. A key absent from every scope leaves its placeholder
// untouched, and the substitution happens in a single pass: replacement
// text is never re-scanned for further placeholders (testable property
// 3).
func Apply(text string, scopes ...map[string]string) string {
	merged := make(map[string]string)
	for _, scope := range scopes {
		for k, v := range scope {
			merged[k] = v
		}
	}

	return placeholder.ReplaceAllStringFunc(text, func(match string) string {
		sub := placeholder.FindStringSubmatch(match)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		if v, ok := merged[name]; ok {
			return v
		}
		return match
	})
}
