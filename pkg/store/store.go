// Package store persists graph snapshots to disk, one self-describing
// JSON document per (profile, account) pair under a configured storage
// root.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/praetorian-inc/privmap/pkg/fault"
	"github.com/praetorian-inc/privmap/pkg/graph"
	"github.com/praetorian-inc/privmap/pkg/iam"
)

const (
	// Format tags every snapshot so incompatible files are rejected with
	// a clear error instead of being misparsed.
	Format        = "privmap.graph"
	FormatVersion = 1
)

// Snapshot is the persisted form of a built graph: nodes, edges, the
// per-principal effective grants the query engine needs, and generation
// metadata.
type Snapshot struct {
	Format        string    `json:"Format"`
	FormatVersion int       `json:"FormatVersion"`
	AccountID     string    `json:"AccountId"`
	Profile       string    `json:"Profile"`
	GenerationID  string    `json:"GenerationId"`
	GeneratedAt   time.Time `json:"GeneratedAt"`

	Nodes    []*graph.Node          `json:"Nodes"`
	Edges    []graph.Edge           `json:"Edges"`
	Grants   map[string][]iam.Grant `json:"Grants,omitempty"`
	Warnings []string               `json:"Warnings,omitempty"`
}

// NewSnapshot freezes a graph into its persisted form.
func NewSnapshot(profile, accountID string, g *graph.Graph, grants map[string][]iam.Grant, warnings []string) *Snapshot {
	return &Snapshot{
		Format:        Format,
		FormatVersion: FormatVersion,
		AccountID:     accountID,
		Profile:       profile,
		GenerationID:  uuid.NewString(),
		GeneratedAt:   time.Now().UTC(),
		Nodes:         g.Nodes(),
		Edges:         g.Edges(),
		Grants:        grants,
		Warnings:      warnings,
	}
}

// Graph reconstructs the in-memory graph. The result is structurally
// equal to the graph the snapshot was taken from.
func (s *Snapshot) Graph() *graph.Graph {
	g := graph.New()
	for _, n := range s.Nodes {
		g.AddNode(n)
	}
	for _, e := range s.Edges {
		g.AddEdge(e)
	}
	return g
}

// Store reads and writes snapshots under a root directory.
type Store struct {
	root string
}

func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the storage root directory.
func (st *Store) Root() string { return st.root }

func (st *Store) path(profile, accountID string) string {
	return filepath.Join(st.root, fmt.Sprintf("%s_%s.json", sanitize(profile), accountID))
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '_':
			return '-'
		}
		return r
	}, name)
}

// Save writes the snapshot atomically: the document is written to a
// temporary file in the same directory and renamed into place, so an
// aborted run never leaves a partial snapshot behind.
func (st *Store) Save(s *Snapshot) (string, error) {
	if err := os.MkdirAll(st.root, 0o755); err != nil {
		return "", &fault.StorageError{Path: st.root, Op: "write", Err: err}
	}

	target := st.path(s.Profile, s.AccountID)
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", &fault.StorageError{Path: target, Op: "write", Err: err}
	}

	tmp, err := os.CreateTemp(st.root, ".privmap-*.tmp")
	if err != nil {
		return "", &fault.StorageError{Path: target, Op: "write", Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", &fault.StorageError{Path: target, Op: "write", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", &fault.StorageError{Path: target, Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &fault.StorageError{Path: target, Op: "write", Err: err}
	}
	if err := os.Rename(tmpName, target); err != nil {
		return "", &fault.StorageError{Path: target, Op: "write", Err: err}
	}
	return target, nil
}

// LoadFile reads one snapshot document, rejecting unknown formats and
// corrupt content. A failure never yields a partial graph.
func (st *Store) LoadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &fault.StorageError{Path: path, Op: "read", Err: err}
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, &fault.StorageError{Path: path, Op: "read", Err: fmt.Errorf("malformed snapshot: %w", err)}
	}
	if s.Format != Format {
		return nil, &fault.StorageError{Path: path, Op: "read", Err: fmt.Errorf("not a graph snapshot (format %q)", s.Format)}
	}
	if s.FormatVersion != FormatVersion {
		return nil, &fault.StorageError{Path: path, Op: "read", Err: fmt.Errorf("unsupported snapshot version %d (want %d)", s.FormatVersion, FormatVersion)}
	}
	return &s, nil
}

// Load returns the newest snapshot for a profile. Candidate files are
// matched by filename prefix; a corrupt candidate surfaces as a
// StorageError naming the file rather than being skipped, since
// answering "no snapshot" over damaged data would be misleading.
func (st *Store) Load(profile string) (*Snapshot, error) {
	entries, err := os.ReadDir(st.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, st.noSnapshot(profile)
		}
		return nil, &fault.StorageError{Path: st.root, Op: "read", Err: err}
	}

	prefix := sanitize(profile) + "_"
	var newest *Snapshot
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		s, err := st.LoadFile(filepath.Join(st.root, name))
		if err != nil {
			return nil, err
		}
		if s.Profile != profile {
			continue
		}
		if newest == nil || s.GeneratedAt.After(newest.GeneratedAt) {
			newest = s
		}
	}
	if newest == nil {
		return nil, st.noSnapshot(profile)
	}
	return newest, nil
}

func (st *Store) noSnapshot(profile string) error {
	return &fault.StorageError{
		Path: st.root,
		Op:   "read",
		Err:  fmt.Errorf("no snapshot for profile %q; run `graph create` first", profile),
	}
}

// List returns every snapshot under the root, sorted by profile then
// account.
func (st *Store) List() ([]*Snapshot, error) {
	entries, err := os.ReadDir(st.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &fault.StorageError{Path: st.root, Op: "read", Err: err}
	}

	var out []*Snapshot
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		s, err := st.LoadFile(filepath.Join(st.root, entry.Name()))
		if err != nil {
			// Skip foreign files; damage to a specific profile's
			// snapshots is reported by Load.
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Profile != out[j].Profile {
			return out[i].Profile < out[j].Profile
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out, nil
}

// Delete removes the snapshot for a (profile, account) pair.
func (st *Store) Delete(profile, accountID string) error {
	target := st.path(profile, accountID)
	if err := os.Remove(target); err != nil {
		return &fault.StorageError{Path: target, Op: "delete", Err: err}
	}
	return nil
}
