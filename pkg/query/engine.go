package query

import (
	"fmt"
	"strings"

	"github.com/praetorian-inc/privmap/pkg/graph"
	"github.com/praetorian-inc/privmap/pkg/iam"
)

// DefaultMaxDepth bounds path enumeration when the caller does not
// configure one. Dense graphs grow combinatorially with depth, so the
// bound also guarantees traversal termination on cycles.
const DefaultMaxDepth = 5

// Path is one discovered edge sequence.
type Path []graph.Edge

func (p Path) String() string {
	if len(p) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(p[0].Source)
	for _, e := range p {
		fmt.Fprintf(&b, " --[%s]--> %s", e.Label, e.Target)
	}
	return b.String()
}

// Result is the ordered outcome of one query: paths in discovery order,
// plus notes for facts that carry no path (direct grants).
type Result struct {
	Paths []Path
	Notes []string
}

// Empty reports whether the query produced nothing.
func (r *Result) Empty() bool {
	return len(r.Paths) == 0 && len(r.Notes) == 0
}

// Engine executes queries against a frozen graph and the per-principal
// effective grants captured in the same snapshot. The engine only reads;
// concurrent queries over one snapshot need no synchronization.
type Engine struct {
	g        *graph.Graph
	grants   map[string][]iam.Grant
	maxDepth int
}

func NewEngine(g *graph.Graph, grants map[string][]iam.Grant) *Engine {
	return &Engine{g: g, grants: grants, maxDepth: DefaultMaxDepth}
}

// SetMaxDepth bounds path enumeration; values below 1 are ignored.
func (e *Engine) SetMaxDepth(depth int) {
	if depth >= 1 {
		e.maxDepth = depth
	}
}

// Run parses and executes a query string.
func (e *Engine) Run(input string) (*Result, error) {
	q, err := Parse(input)
	if err != nil {
		return nil, err
	}
	return e.Execute(q)
}

// Execute runs a parsed query. Graph iteration is identifier-sorted
// throughout, so identical queries over identical snapshots yield
// identical ordered results.
func (e *Engine) Execute(q Query) (*Result, error) {
	switch q := q.(type) {
	case *PresetQuery:
		return e.runPreset(q)
	case *CanQuery:
		return e.runCan(q)
	case *WhoQuery:
		return e.runWho(q)
	case *ReachQuery:
		return e.runReach(q)
	default:
		return nil, fmt.Errorf("unsupported query type %T", q)
	}
}

func (e *Engine) runPreset(q *PresetQuery) (*Result, error) {
	preset, ok := loadedPresets[q.Name]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q", q.Name)
	}
	selector := "*"
	if len(q.Args) > 0 {
		selector = q.Args[0]
	}

	follow := e.edgeFilter(preset)
	result := &Result{}
	for _, node := range e.g.Nodes() {
		if !iam.MatchPattern(selector, node.ID) && !iam.MatchPattern(selector, node.Name) {
			continue
		}
		e.enumerate(node.ID, follow, func(path Path) bool {
			if preset.Target == "admin" {
				tail := e.g.Node(path[len(path)-1].Target)
				return tail != nil && tail.Admin
			}
			return true
		}, result)
	}
	return result, nil
}

func (e *Engine) edgeFilter(preset Preset) func(graph.Edge) bool {
	labels := make(map[string]struct{}, len(preset.Labels))
	for _, l := range preset.Labels {
		labels[l] = struct{}{}
	}
	return func(edge graph.Edge) bool {
		if preset.Edges == "escalation" && edge.Rule == "" {
			return false
		}
		if len(labels) > 0 {
			_, ok := labels[edge.Label]
			return ok
		}
		return true
	}
}

// enumerate walks all simple paths from root in depth-first order,
// reporting every path accepted by keep. The visited set is scoped to
// this traversal only; an edge closing onto a visited node (including the
// root itself) terminates the path but is still reported, so self-loops
// and mutual-escalation cycles appear exactly once.
func (e *Engine) enumerate(root string, follow func(graph.Edge) bool, keep func(Path) bool, result *Result) {
	visited := map[string]struct{}{root: {}}
	var path Path

	var walk func(node string, depth int)
	walk = func(node string, depth int) {
		if depth >= e.maxDepth {
			return
		}
		for _, edge := range e.g.EdgesFrom(node) {
			if follow != nil && !follow(edge) {
				continue
			}
			path = append(path, edge)
			if keep == nil || keep(path) {
				result.Paths = append(result.Paths, append(Path{}, path...))
			}
			if _, seen := visited[edge.Target]; !seen {
				visited[edge.Target] = struct{}{}
				walk(edge.Target, depth+1)
				delete(visited, edge.Target)
			}
			path = path[:len(path)-1]
		}
	}
	walk(root, 0)
}

// runCan answers a permission question for every principal matching the
// selector: a direct effective grant is reported as a note, and any
// escalation path to a principal holding the permission is reported as a
// path.
func (e *Engine) runCan(q *CanQuery) (*Result, error) {
	result := &Result{}
	matched := false
	for _, node := range e.g.Nodes() {
		if !iam.MatchPattern(q.Principal, node.ID) && !iam.MatchPattern(q.Principal, node.Name) {
			continue
		}
		matched = true
		e.answerCan(node, q.Action, q.Resource, result)
	}
	if !matched {
		return nil, fmt.Errorf("no principal matches selector %q", q.Principal)
	}
	return result, nil
}

func (e *Engine) answerCan(node *graph.Node, action, resource string, result *Result) {
	if e.holdsGrant(node.ID, action, resource) {
		result.Notes = append(result.Notes, fmt.Sprintf("%s holds %s on %s directly", node.ID, action, resource))
	}
	escalation := func(edge graph.Edge) bool { return edge.Rule != "" }
	e.enumerate(node.ID, escalation, func(path Path) bool {
		return e.holdsGrant(path[len(path)-1].Target, action, resource)
	}, result)
}

func (e *Engine) holdsGrant(arn, action, resource string) bool {
	for _, g := range e.grants[arn] {
		if !g.Allowed {
			continue
		}
		if iam.MatchPattern(g.Action, action) && iam.MatchPattern(g.Resource, resource) {
			return true
		}
	}
	return false
}

func (e *Engine) runWho(q *WhoQuery) (*Result, error) {
	result := &Result{}
	for _, node := range e.g.Nodes() {
		e.answerCan(node, q.Action, q.Resource, result)
	}
	return result, nil
}

func (e *Engine) runReach(q *ReachQuery) (*Result, error) {
	result := &Result{}
	for _, node := range e.g.Nodes() {
		if !iam.MatchPattern(q.Source, node.ID) && !iam.MatchPattern(q.Source, node.Name) {
			continue
		}
		e.enumerate(node.ID, nil, func(path Path) bool {
			tail := path[len(path)-1].Target
			tailNode := e.g.Node(tail)
			if iam.MatchPattern(q.Target, tail) {
				return true
			}
			return tailNode != nil && iam.MatchPattern(q.Target, tailNode.Name)
		}, result)
	}
	return result, nil
}
