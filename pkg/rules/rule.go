// Package rules holds the privilege-escalation rule catalog: an open
// registry of techniques, each a pure predicate over a principal's
// resolved grants that proposes zero or more escalation edges.
package rules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/praetorian-inc/privmap/pkg/iam"
	"github.com/praetorian-inc/privmap/pkg/types"
)

// Subject pairs a principal record with its resolved grant set.
type Subject struct {
	Record *types.PrincipalRecord
	Grants *iam.GrantSet

	// Admin marks principals already resolved as effective account
	// administrators; rules skip proposing edges from them since every
	// path they offer is redundant.
	Admin bool
}

// Proposal is a candidate escalation edge. Label carries the technique
// identifier, Reason the human description, Precondition any
// resource-level requirement the technique depends on.
type Proposal struct {
	SourceArn    string
	TargetArn    string
	Label        string
	Reason       string
	Precondition string
}

// Rule is one escalation technique. Evaluate must be a pure function of
// its arguments: no shared state, identical output for identical input
// regardless of evaluation order. Candidates arrive sorted by ARN.
type Rule interface {
	ID() string
	Description() string
	Evaluate(src *Subject, candidates []*Subject) []Proposal
}

// Registry is the open rule catalog. Techniques register under a stable
// identifier and can be added or removed without touching the engine.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]Rule)}
}

// Register adds a rule, rejecting duplicate identifiers.
func (r *Registry) Register(rule Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.rules[rule.ID()]; dup {
		return fmt.Errorf("rule %q already registered", rule.ID())
	}
	r.rules[rule.ID()] = rule
	return nil
}

// Remove drops a rule by identifier.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rules, id)
}

// Rules returns the catalog sorted by identifier.
func (r *Registry) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.rules))
	for id := range r.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Rule, len(ids))
	for i, id := range ids {
		out[i] = r.rules[id]
	}
	return out
}

// EvaluateAll runs every registered rule for one source subject.
func (r *Registry) EvaluateAll(src *Subject, candidates []*Subject) []Proposal {
	if src.Admin {
		return nil
	}
	var out []Proposal
	for _, rule := range r.Rules() {
		out = append(out, rule.Evaluate(src, candidates)...)
	}
	return out
}
