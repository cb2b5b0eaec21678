package graph

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/praetorian-inc/privmap/pkg/fault"
	"github.com/praetorian-inc/privmap/pkg/iam"
	"github.com/praetorian-inc/privmap/pkg/rules"
	"github.com/praetorian-inc/privmap/pkg/types"
)

// EdgeLabelMemberOf marks group-membership edges, the only direct edges
// not produced by a rule.
const EdgeLabelMemberOf = "MemberOf"

// Builder assembles principals, direct-grant edges and escalation edges
// into a Graph. Rule evaluation is parallel across principals; the merge
// into the graph is single-writer. A Builder retains its subjects so new
// principals can be added without rebuilding the whole graph.
type Builder struct {
	resolver *iam.Resolver
	registry *rules.Registry
	workers  int

	mu       sync.Mutex
	graph    *Graph
	subjects []*rules.Subject
	byArn    map[string]*rules.Subject
	warnings []fault.IngestionWarning
}

func NewBuilder(registry *rules.Registry) *Builder {
	return &Builder{
		resolver: iam.NewResolver(),
		registry: registry,
		workers:  runtime.NumCPU(),
		graph:    New(),
		byArn:    make(map[string]*rules.Subject),
	}
}

// SetWorkers overrides the evaluation parallelism; values below 1 are
// ignored.
func (b *Builder) SetWorkers(n int) {
	if n >= 1 {
		b.workers = n
	}
}

// Graph returns the assembled graph.
func (b *Builder) Graph() *Graph { return b.graph }

// Grants returns the effective grant tuples of every principal in the
// graph, keyed by ARN. Snapshots persist these for the query engine.
func (b *Builder) Grants() map[string][]iam.Grant {
	out := make(map[string][]iam.Grant, len(b.subjects))
	for _, s := range b.subjects {
		out[s.Record.Arn] = s.Grants.Grants()
	}
	return out
}

// Warnings returns the non-fatal defects accumulated so far, in a stable
// order.
func (b *Builder) Warnings() []fault.IngestionWarning {
	sort.Slice(b.warnings, func(i, j int) bool {
		if b.warnings[i].Subject != b.warnings[j].Subject {
			return b.warnings[i].Subject < b.warnings[j].Subject
		}
		return b.warnings[i].Detail < b.warnings[j].Detail
	})
	return b.warnings
}

func (b *Builder) warn(subject, format string, args ...any) {
	b.mu.Lock()
	b.warnings = append(b.warnings, fault.IngestionWarning{
		Subject: subject,
		Detail:  fmt.Sprintf(format, args...),
	})
	b.mu.Unlock()
}

// Build assembles a fresh graph from the full principal set.
func (b *Builder) Build(ctx context.Context, principals []*types.PrincipalRecord) (*Graph, error) {
	b.graph = New()
	b.subjects = nil
	b.byArn = make(map[string]*rules.Subject)
	b.warnings = nil
	return b.graph, b.AddPrincipals(ctx, principals)
}

// AddPrincipals extends the graph with new principals: resolves their
// permissions, adds their nodes and membership edges, then evaluates the
// rule catalog for every (new source, any candidate) and (old source, new
// candidate) pair. Edge deduplication makes repeated extension
// idempotent.
func (b *Builder) AddPrincipals(ctx context.Context, principals []*types.PrincipalRecord) error {
	groupsByName := make(map[string]*types.PrincipalRecord)
	for _, s := range b.subjects {
		if s.Record.Kind == types.KindGroup {
			groupsByName[s.Record.Name] = s.Record
		}
	}
	for _, p := range principals {
		if p.Kind == types.KindGroup {
			groupsByName[p.Name] = p
		}
	}

	fresh := make([]*rules.Subject, 0, len(principals))
	for _, p := range principals {
		if _, dup := b.byArn[p.Arn]; dup {
			b.warn(p.Arn, "duplicate principal record skipped")
			continue
		}
		grants, err := b.resolver.Resolve(p, groupsByName, func(user, group string) {
			b.warn(user, "references unknown group %q", group)
		})
		if err != nil {
			return err
		}
		subject := &rules.Subject{Record: p, Grants: grants, Admin: grants.IsAdmin()}
		fresh = append(fresh, subject)
		b.subjects = append(b.subjects, subject)
		b.byArn[p.Arn] = subject
	}

	sort.Slice(b.subjects, func(i, j int) bool {
		return b.subjects[i].Record.Arn < b.subjects[j].Record.Arn
	})

	for _, s := range fresh {
		b.graph.AddNode(&Node{
			ID:    s.Record.Arn,
			Name:  s.Record.Name,
			Kind:  s.Record.Kind,
			Admin: s.Admin,
		})
	}

	for _, s := range fresh {
		if !s.Record.IsUser() {
			continue
		}
		for _, groupName := range s.Record.Groups {
			group, ok := groupsByName[groupName]
			if !ok {
				// Already warned during resolution.
				continue
			}
			b.addProposal(rules.Proposal{
				SourceArn: s.Record.Arn,
				TargetArn: group.Arn,
				Label:     EdgeLabelMemberOf,
				Reason:    fmt.Sprintf("%s is a member of %s", s.Record.Name, group.Name),
			}, "")
		}
	}

	return b.evaluateRules(ctx, fresh)
}

// evaluateRules runs the catalog concurrently: new sources see every
// candidate, pre-existing sources see only the new candidates.
func (b *Builder) evaluateRules(ctx context.Context, fresh []*rules.Subject) error {
	freshArns := make(map[string]struct{}, len(fresh))
	for _, s := range fresh {
		freshArns[s.Record.Arn] = struct{}{}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for _, src := range b.subjects {
		src := src
		candidates := b.subjects
		if _, isFresh := freshArns[src.Record.Arn]; !isFresh {
			candidates = fresh
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			proposals := b.registry.EvaluateAll(src, candidates)
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, p := range proposals {
				b.insertLocked(p, ruleForLabel(p.Label))
			}
			return nil
		})
	}

	return g.Wait()
}

// ruleForLabel maps a proposal label to the rule identifier stored on the
// edge. Labels and rule IDs coincide for the built-in catalog.
func ruleForLabel(label string) string { return label }

func (b *Builder) addProposal(p rules.Proposal, rule string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.insertLocked(p, rule)
}

func (b *Builder) insertLocked(p rules.Proposal, rule string) {
	e := Edge{
		Source:       p.SourceArn,
		Target:       p.TargetArn,
		Label:        p.Label,
		Rule:         rule,
		Reason:       p.Reason,
		Precondition: p.Precondition,
	}
	if !b.graph.AddEdge(e) {
		// One dangling reference never fails the build.
		slog.Debug("skipping edge with dangling endpoint", "source", p.SourceArn, "target", p.TargetArn, "label", p.Label)
		b.warnings = append(b.warnings, fault.IngestionWarning{
			Subject: p.SourceArn,
			Detail:  fmt.Sprintf("edge %q references unknown principal %s", p.Label, p.TargetArn),
		})
	}
}
