// Package graph holds the directed multigraph of principals and
// resources, with edges labeled by the action or escalation technique
// that connects them.
package graph

import (
	"fmt"
	"sort"

	"github.com/praetorian-inc/privmap/pkg/types"
)

// Node is a graph vertex: a principal or resource, identified by ARN.
type Node struct {
	ID    string              `json:"Id"`
	Name  string              `json:"Name"`
	Kind  types.PrincipalKind `json:"Kind"`
	Admin bool                `json:"Admin,omitempty"`

	Properties map[string]string `json:"Properties,omitempty"`
}

// Edge is a directed labeled edge. Label is the action or escalation
// technique identifier; Rule names the rule that produced it (empty for
// direct-grant edges); Precondition carries any resource-level condition
// the technique depends on.
type Edge struct {
	Source       string `json:"Source"`
	Target       string `json:"Target"`
	Label        string `json:"Label"`
	Rule         string `json:"Rule,omitempty"`
	Reason       string `json:"Reason,omitempty"`
	Precondition string `json:"Precondition,omitempty"`
}

func (e Edge) key() string {
	return e.Source + "\x00" + e.Target + "\x00" + e.Label
}

// String renders the edge the way query results print path segments.
func (e Edge) String() string {
	return fmt.Sprintf("%s --[%s]--> %s", e.Source, e.Label, e.Target)
}

// Graph is a directed multigraph. Nodes are keyed by ID; edges are
// deduplicated on (source, target, label). Cycles are valid (mutual
// escalation) and traversal bounds are the caller's concern. A Graph is
// not safe for concurrent mutation; a frozen graph is safe for any number
// of concurrent readers.
type Graph struct {
	nodes map[string]*Node
	// out maps source ID to its outgoing edges keyed by (target, label).
	out      map[string]map[string]Edge
	edgeKeys map[string]struct{}
}

func New() *Graph {
	return &Graph{
		nodes:    make(map[string]*Node),
		out:      make(map[string]map[string]Edge),
		edgeKeys: make(map[string]struct{}),
	}
}

// AddNode inserts or replaces a node.
func (g *Graph) AddNode(n *Node) {
	g.nodes[n.ID] = n
}

// HasNode reports whether the node ID is present.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Node returns the node for id, or nil.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// AddEdge inserts an edge, ignoring duplicates with identical (source,
// target, label). It returns false when either endpoint is not a known
// node; callers treat that as a dangling reference, not a failure.
func (g *Graph) AddEdge(e Edge) bool {
	if !g.HasNode(e.Source) || !g.HasNode(e.Target) {
		return false
	}
	key := e.key()
	if _, dup := g.edgeKeys[key]; dup {
		return true
	}
	g.edgeKeys[key] = struct{}{}
	if g.out[e.Source] == nil {
		g.out[e.Source] = make(map[string]Edge)
	}
	g.out[e.Source][e.Target+"\x00"+e.Label] = e
	return true
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of distinct edges.
func (g *Graph) EdgeCount() int { return len(g.edgeKeys) }

// Nodes returns all nodes sorted by ID. Iteration order is part of the
// engine's determinism contract: query results must be reproducible
// across runs, so nothing may iterate the underlying maps directly.
func (g *Graph) Nodes() []*Node {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*Node, len(ids))
	for i, id := range ids {
		out[i] = g.nodes[id]
	}
	return out
}

// EdgesFrom returns the outgoing edges of a node sorted by (target,
// label).
func (g *Graph) EdgesFrom(source string) []Edge {
	m := g.out[source]
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Edge, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}

// Edges returns every edge sorted by (source, target, label).
func (g *Graph) Edges() []Edge {
	var out []Edge
	sources := make([]string, 0, len(g.out))
	for s := range g.out {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	for _, s := range sources {
		out = append(out, g.EdgesFrom(s)...)
	}
	return out
}

// Equal reports structural equality: same node set (by value) and same
// edge set including labels. Object identity does not matter.
func (g *Graph) Equal(other *Graph) bool {
	if other == nil || len(g.nodes) != len(other.nodes) || len(g.edgeKeys) != len(other.edgeKeys) {
		return false
	}
	for id, n := range g.nodes {
		on, ok := other.nodes[id]
		if !ok || n.Name != on.Name || n.Kind != on.Kind || n.Admin != on.Admin {
			return false
		}
		if len(n.Properties) != len(on.Properties) {
			return false
		}
		for k, v := range n.Properties {
			if on.Properties[k] != v {
				return false
			}
		}
	}
	for key := range g.edgeKeys {
		if _, ok := other.edgeKeys[key]; !ok {
			return false
		}
	}
	return true
}
