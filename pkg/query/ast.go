// Package query parses and executes the graph query language: preset
// invocations, permission questions and path-existence questions over a
// frozen graph snapshot.
package query

// Query is the typed AST of a parsed query string.
type Query interface {
	queryNode()
}

// PresetQuery invokes a named preset with selector arguments, e.g.
// `preset privesc *`.
type PresetQuery struct {
	Name string
	Args []string
}

// CanQuery asks whether a principal holds or can escalate to a
// permission: `can <principal> do <action> [on <resource>]`.
type CanQuery struct {
	Principal string
	Action    string
	Resource  string
}

// WhoQuery enumerates the principals that hold or can escalate to a
// permission: `who can do <action> [on <resource>]`.
type WhoQuery struct {
	Action   string
	Resource string
}

// ReachQuery enumerates simple paths between two selectors:
// `reach <source> <target>`.
type ReachQuery struct {
	Source string
	Target string
}

func (*PresetQuery) queryNode() {}
func (*CanQuery) queryNode()    {}
func (*WhoQuery) queryNode()    {}
func (*ReachQuery) queryNode()  {}
