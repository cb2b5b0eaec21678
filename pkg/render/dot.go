// Package render projects a graph snapshot into Graphviz DOT and hands
// raster formats off to the external dot binary.
package render

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	dgraph "github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"

	"github.com/praetorian-inc/privmap/pkg/graph"
)

// kindColors pick the fill per node kind; admins are highlighted
// regardless of kind.
var kindColors = map[string]string{
	"user":  "lightblue",
	"role":  "lightgoldenrod",
	"group": "lightgrey",
}

// WriteDOT renders the graph in DOT form. Parallel edges between a pair
// of nodes are merged into one drawn edge with a combined label, since
// the projection target allows a single edge per (source, target) pair.
func WriteDOT(w io.Writer, g *graph.Graph) error {
	dg := dgraph.New(dgraph.StringHash, dgraph.Directed())

	for _, n := range g.Nodes() {
		color := kindColors[string(n.Kind)]
		if n.Admin {
			color = "salmon"
		}
		attrs := []func(*dgraph.VertexProperties){
			dgraph.VertexAttribute("label", n.Name),
			dgraph.VertexAttribute("style", "filled"),
		}
		if color != "" {
			attrs = append(attrs, dgraph.VertexAttribute("fillcolor", color))
		}
		if err := dg.AddVertex(n.ID, attrs...); err != nil {
			return fmt.Errorf("projecting node %s: %w", n.ID, err)
		}
	}

	labels := make(map[[2]string][]string)
	for _, e := range g.Edges() {
		key := [2]string{e.Source, e.Target}
		labels[key] = append(labels[key], e.Label)
	}
	for _, e := range g.Edges() {
		key := [2]string{e.Source, e.Target}
		if labels[key] == nil {
			continue
		}
		combined := strings.Join(labels[key], "\\n")
		delete(labels, key)

		style := "solid"
		if e.Rule == "" {
			style = "dashed"
		}
		err := dg.AddEdge(e.Source, e.Target,
			dgraph.EdgeAttribute("label", combined),
			dgraph.EdgeAttribute("style", style),
		)
		if err != nil {
			return fmt.Errorf("projecting edge %s: %w", e, err)
		}
	}

	return draw.DOT(dg, w)
}

// Render writes the graph to path in the requested filetype. "dot" is
// produced in-process; any other format is delegated to the Graphviz dot
// binary, which must be installed.
func Render(ctx context.Context, g *graph.Graph, path, filetype string) error {
	if filetype == "dot" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return WriteDOT(f, g)
	}

	dotPath, err := exec.LookPath("dot")
	if err != nil {
		return fmt.Errorf("rendering %q requires graphviz; install it or use --filetype dot: %w", filetype, err)
	}

	cmd := exec.CommandContext(ctx, dotPath, "-T"+filetype, "-o", path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if err := WriteDOT(stdin, g); err != nil {
		stdin.Close()
		return err
	}
	if err := stdin.Close(); err != nil {
		return err
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("dot -T%s failed: %w", filetype, err)
	}
	return nil
}
