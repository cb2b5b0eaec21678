// Package iam resolves the effective permissions of IAM principals from
// their attached, group and boundary policy documents.
package iam

import (
	"regexp"
	"strings"
	"sync"

	"github.com/praetorian-inc/privmap/pkg/types"
)

// patternCache holds compiled pattern regexes; policy sets repeat the same
// handful of patterns across many statements.
var patternCache sync.Map // string -> *regexp.Regexp

// MatchPattern reports whether input matches an IAM-style glob pattern.
// `*` matches any run of characters, `?` matches one character. Matching
// is case-sensitive and anchored to the full string.
func MatchPattern(pattern, input string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.ContainsAny(pattern, "*?") {
		return pattern == input
	}

	re, ok := patternCache.Load(pattern)
	if !ok {
		converted := "^" + strings.NewReplacer(
			".", `\.`,
			"+", `\+`,
			"(", `\(`,
			")", `\)`,
			"[", `\[`,
			"]", `\]`,
			"{", `\{`,
			"}", `\}`,
			"$", `\$`,
			"^", `\^`,
			"|", `\|`,
			"\\", `\\`,
			"*", ".*",
			"?", ".",
		).Replace(pattern) + "$"
		re = regexp.MustCompile(converted)
		patternCache.Store(pattern, re)
	}
	return re.(*regexp.Regexp).MatchString(input)
}

// MatchAny reports whether input matches any pattern in the list.
func MatchAny(patterns []string, input string) bool {
	for _, p := range patterns {
		if MatchPattern(p, input) {
			return true
		}
	}
	return false
}

// PatternCovers reports whether the outer pattern subsumes the inner one:
// every concrete string the inner pattern can match is also matched by
// the outer. The check is conservative; it recognizes the cases policy
// sets produce in practice (identical patterns, a bare `*`, and an outer
// wildcard prefix of the inner pattern) and otherwise falls back to
// matching the inner pattern as a literal.
func PatternCovers(outer, inner string) bool {
	if outer == "*" || outer == inner {
		return true
	}
	// Outer "svc:Prefix*" covers inner "svc:PrefixMore*" and any literal
	// under the prefix.
	if strings.HasSuffix(outer, "*") && !strings.ContainsAny(strings.TrimSuffix(outer, "*"), "*?") {
		return strings.HasPrefix(inner, strings.TrimSuffix(outer, "*"))
	}
	if !strings.ContainsAny(inner, "*?") {
		return MatchPattern(outer, inner)
	}
	return false
}

// statementMatches evaluates the Action/NotAction and Resource/NotResource
// elements of a statement against a concrete action and resource. A
// resource of "*" on the request side matches statements that name any
// resource pattern.
func statementMatches(stmt *types.PolicyStatement, action, resource string) bool {
	if stmt.NotAction != nil {
		if MatchAny(*stmt.NotAction, action) {
			return false
		}
	} else if stmt.Action == nil || !MatchAny(*stmt.Action, action) {
		return false
	}

	if stmt.NotResource != nil {
		return !MatchAny(*stmt.NotResource, resource)
	}
	if stmt.Resource == nil {
		// Trust-policy statements carry no Resource element; they are
		// scoped to the document's principal.
		return true
	}
	return MatchAny(*stmt.Resource, resource)
}
