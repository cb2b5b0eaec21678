package iam

import (
	"fmt"
	"sort"
	"sync"

	"github.com/praetorian-inc/privmap/pkg/fault"
	"github.com/praetorian-inc/privmap/pkg/types"
)

// adminProbes are the sentinel permissions whose unconditional grant marks
// a principal as an effective account administrator.
var adminProbes = []struct{ action, resource string }{
	{"iam:PutUserPolicy", "*"},
	{"iam:AttachRolePolicy", "*"},
	{"iam:CreatePolicyVersion", "*"},
	{"sts:AssumeRole", "*"},
}

// Grant is one effective permission tuple of a principal: an action
// pattern, a resource pattern, and whether the pair survives explicit
// denies and the permission boundary.
type Grant struct {
	Action   string `json:"Action"`
	Resource string `json:"Resource"`
	Allowed  bool   `json:"Allowed"`

	// Conditional marks grants whose source statement carries a
	// Condition element; escalation edges built on them carry the
	// condition as a precondition.
	Conditional bool `json:"Conditional,omitempty"`
}

// GrantSet is the resolved permission set of a single principal. It is
// immutable after Resolve and safe for concurrent readers.
type GrantSet struct {
	PrincipalArn string

	allows   []types.PolicyStatement
	denies   []types.PolicyStatement
	boundary []types.PolicyStatement
	bounded  bool
}

// Resolve produces the effective permission set for a principal. Users
// inherit the policies of every group named in their record; groups are
// looked up by name in groupsByName and unknown names are reported to
// missingGroup (ingestion records them as warnings, never failures).
//
// The evaluation order is fixed by IAM semantics: explicit Deny overrides
// any number of matching Allows, and a permission boundary can only
// restrict, never extend, the identity grants.
func Resolve(principal *types.PrincipalRecord, groupsByName map[string]*types.PrincipalRecord, missingGroup func(user, group string)) (*GrantSet, error) {
	gs := &GrantSet{PrincipalArn: principal.Arn}

	docs := make([]*types.Policy, 0, len(principal.Policies))
	docs = append(docs, principal.Policies...)

	if principal.IsUser() {
		for _, groupName := range principal.Groups {
			group, ok := groupsByName[groupName]
			if !ok {
				if missingGroup != nil {
					missingGroup(principal.Arn, groupName)
				}
				continue
			}
			docs = append(docs, group.Policies...)
		}
	}

	for _, doc := range docs {
		if doc == nil || doc.Statement == nil {
			continue
		}
		for _, stmt := range *doc.Statement {
			if err := stmt.Validate(); err != nil {
				return nil, &fault.ParseError{Document: documentName(doc, principal), Err: err}
			}
			stmt.Origin = documentName(doc, principal)
			if stmt.IsAllow() {
				gs.allows = append(gs.allows, stmt)
			} else {
				gs.denies = append(gs.denies, stmt)
			}
		}
	}

	if principal.Boundary != nil && principal.Boundary.Statement != nil {
		gs.bounded = true
		for _, stmt := range *principal.Boundary.Statement {
			if err := stmt.Validate(); err != nil {
				return nil, &fault.ParseError{Document: documentName(principal.Boundary, principal), Err: err}
			}
			gs.boundary = append(gs.boundary, stmt)
		}
	}

	return gs, nil
}

func documentName(doc *types.Policy, principal *types.PrincipalRecord) string {
	if doc.Origin != "" {
		return doc.Origin
	}
	if doc.Id != "" {
		return doc.Id
	}
	return fmt.Sprintf("%s/<unnamed policy>", principal.Arn)
}

// Allows reports whether the principal holds the concrete action on the
// concrete resource. Statements with conditions are treated as
// satisfiable; callers that care use AllowsDetail.
func (gs *GrantSet) Allows(action, resource string) bool {
	allowed, _ := gs.AllowsDetail(action, resource)
	return allowed
}

// AllowsDetail reports whether the permission is held and whether every
// matching allow statement is conditioned.
func (gs *GrantSet) AllowsDetail(action, resource string) (allowed, conditional bool) {
	for i := range gs.denies {
		if statementMatches(&gs.denies[i], action, resource) {
			// Explicit deny wins regardless of evaluation order.
			return false, false
		}
	}

	conditional = true
	matched := false
	for i := range gs.allows {
		if statementMatches(&gs.allows[i], action, resource) {
			matched = true
			if gs.allows[i].Condition == nil {
				conditional = false
			}
		}
	}
	if !matched {
		return false, false
	}

	if gs.bounded && !boundaryAllows(gs.boundary, action, resource) {
		return false, false
	}
	return true, conditional
}

// boundaryAllows applies the boundary's own allow/deny evaluation; the
// boundary never expands identity grants, so a miss here is final.
func boundaryAllows(boundary []types.PolicyStatement, action, resource string) bool {
	allowed := false
	for i := range boundary {
		if !statementMatches(&boundary[i], action, resource) {
			continue
		}
		if !boundary[i].IsAllow() {
			return false
		}
		allowed = true
	}
	return allowed
}

// Grants enumerates the effective grant tuples: one per (action pattern,
// resource pattern) pair across all allow statements, marked Allowed
// according to deny precedence and the boundary. Output is sorted by
// (action, resource) for reproducibility.
func (gs *GrantSet) Grants() []Grant {
	seen := make(map[string]int)
	var out []Grant

	for i := range gs.allows {
		stmt := &gs.allows[i]
		for _, action := range stmt.Actions() {
			resources := stmt.Resources()
			if len(resources) == 0 {
				resources = []string{"*"}
			}
			for _, resource := range resources {
				key := action + "\x00" + resource
				if _, dup := seen[key]; dup {
					continue
				}
				grant := Grant{
					Action:      action,
					Resource:    resource,
					Allowed:     gs.grantSurvives(action, resource),
					Conditional: stmt.Condition != nil,
				}
				seen[key] = len(out)
				out = append(out, grant)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Action != out[j].Action {
			return out[i].Action < out[j].Action
		}
		return out[i].Resource < out[j].Resource
	})
	return out
}

// grantSurvives checks an allow pattern pair against denies and the
// boundary. Concrete pairs get the exact evaluation; wildcard pairs are
// checked for full coverage by a deny, since a partially-denied wildcard
// grant still holds for the remainder of its range.
func (gs *GrantSet) grantSurvives(action, resource string) bool {
	for i := range gs.denies {
		stmt := &gs.denies[i]
		if stmt.Condition != nil {
			continue
		}
		if denyCovers(stmt, action, resource) {
			return false
		}
	}
	if gs.bounded && !boundaryCoversGrant(gs.boundary, action, resource) {
		return false
	}
	return true
}

func denyCovers(stmt *types.PolicyStatement, action, resource string) bool {
	actionCovered := false
	for _, pat := range stmt.Actions() {
		if PatternCovers(pat, action) {
			actionCovered = true
			break
		}
	}
	if !actionCovered {
		return false
	}
	resources := stmt.Resources()
	if len(resources) == 0 {
		return stmt.NotResource == nil
	}
	for _, pat := range resources {
		if PatternCovers(pat, resource) {
			return true
		}
	}
	return false
}

func boundaryCoversGrant(boundary []types.PolicyStatement, action, resource string) bool {
	for i := range boundary {
		stmt := &boundary[i]
		if !stmt.IsAllow() {
			if denyCovers(stmt, action, resource) {
				return false
			}
			continue
		}
		actionCovered := false
		for _, pat := range stmt.Actions() {
			if PatternCovers(pat, action) {
				actionCovered = true
				break
			}
		}
		if !actionCovered {
			continue
		}
		for _, pat := range stmt.Resources() {
			if PatternCovers(pat, resource) {
				return true
			}
		}
	}
	return false
}

// IsAdmin reports whether the principal effectively administers the
// account, via the sentinel permission probes.
func (gs *GrantSet) IsAdmin() bool {
	for _, probe := range adminProbes {
		allowed, conditional := gs.AllowsDetail(probe.action, probe.resource)
		if !allowed || conditional {
			return false
		}
	}
	return true
}

// Resolver caches resolved permission sets keyed by principal ARN and
// policy-set hash, so repeated builds over unchanged data skip
// re-resolution. Resolution itself is a pure function of its inputs.
type Resolver struct {
	mu    sync.Mutex
	cache map[string]*GrantSet
}

func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]*GrantSet)}
}

// Resolve returns the cached grant set for the principal when its policy
// content is unchanged, resolving and caching otherwise.
func (r *Resolver) Resolve(principal *types.PrincipalRecord, groupsByName map[string]*types.PrincipalRecord, missingGroup func(user, group string)) (*GrantSet, error) {
	key := principal.Arn + "\x00" + types.HashPolicies(cacheDocs(principal, groupsByName))

	r.mu.Lock()
	cached, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	gs, err := Resolve(principal, groupsByName, missingGroup)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = gs
	r.mu.Unlock()
	return gs, nil
}

func cacheDocs(principal *types.PrincipalRecord, groupsByName map[string]*types.PrincipalRecord) []*types.Policy {
	docs := append([]*types.Policy{}, principal.Policies...)
	if principal.Boundary != nil {
		docs = append(docs, principal.Boundary)
	}
	if principal.IsUser() {
		for _, name := range principal.Groups {
			if group, ok := groupsByName[name]; ok {
				docs = append(docs, group.Policies...)
			}
		}
	}
	return docs
}
