package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/privmap/pkg/fault"
	"github.com/praetorian-inc/privmap/pkg/graph"
	"github.com/praetorian-inc/privmap/pkg/iam"
	"github.com/praetorian-inc/privmap/pkg/types"
)

const (
	arnAlice = "arn:aws:iam::111111111111:user/alice"
	arnBob   = "arn:aws:iam::111111111111:user/bob"
	arnAdmin = "arn:aws:iam::111111111111:role/admin"
	arnLoop  = "arn:aws:iam::111111111111:role/self-escalator"
)

// testGraph wires the scenario the engine tests share:
//
//	alice --[PutUserPolicy]--> bob --[AssumeRole]--> admin (Admin)
//	self-escalator --[CreatePolicyVersion]--> self-escalator
func testEngine() *Engine {
	g := graph.New()
	g.AddNode(&graph.Node{ID: arnAlice, Name: "alice", Kind: types.KindUser})
	g.AddNode(&graph.Node{ID: arnBob, Name: "bob", Kind: types.KindUser})
	g.AddNode(&graph.Node{ID: arnAdmin, Name: "admin", Kind: types.KindRole, Admin: true})
	g.AddNode(&graph.Node{ID: arnLoop, Name: "self-escalator", Kind: types.KindRole})

	g.AddEdge(graph.Edge{Source: arnAlice, Target: arnBob, Label: "PutUserPolicy", Rule: "PutUserPolicy"})
	g.AddEdge(graph.Edge{Source: arnBob, Target: arnAdmin, Label: "AssumeRole", Rule: "AssumeRole"})
	g.AddEdge(graph.Edge{Source: arnLoop, Target: arnLoop, Label: "CreatePolicyVersion", Rule: "CreatePolicyVersion"})

	grants := map[string][]iam.Grant{
		arnAdmin: {{Action: "*", Resource: "*", Allowed: true}},
		arnBob:   {{Action: "s3:Get*", Resource: "arn:aws:s3:::data/*", Allowed: true}},
		arnLoop:  {{Action: "iam:CreatePolicyVersion", Resource: "*", Allowed: true}},
	}
	return NewEngine(g, grants)
}

func TestPresetPrivescFromPrincipal(t *testing.T) {
	result, err := testEngine().Run("preset privesc alice")
	require.NoError(t, err)

	require.Len(t, result.Paths, 2)
	assert.Equal(t, arnAlice+" --[PutUserPolicy]--> "+arnBob, result.Paths[0].String())
	assert.Equal(t, arnAlice+" --[PutUserPolicy]--> "+arnBob+" --[AssumeRole]--> "+arnAdmin, result.Paths[1].String())
}

func TestPresetPrivescStarIncludesSelfLoop(t *testing.T) {
	result, err := testEngine().Run("preset privesc *")
	require.NoError(t, err)

	var found bool
	for _, p := range result.Paths {
		if len(p) == 1 && p[0].Source == arnLoop && p[0].Target == arnLoop {
			found = true
		}
	}
	assert.True(t, found, "self-loop edge reported exactly once: %v", result.Paths)

	for _, p := range result.Paths {
		if len(p) > 1 {
			assert.NotEqual(t, arnLoop, p[0].Source, "self-loop must not be recursed into")
		}
	}
}

func TestPresetAdminKeepsOnlyAdminTails(t *testing.T) {
	result, err := testEngine().Run("preset admin *")
	require.NoError(t, err)

	require.NotEmpty(t, result.Paths)
	for _, p := range result.Paths {
		assert.Equal(t, arnAdmin, p[len(p)-1].Target)
	}
}

func TestPresetUnknownName(t *testing.T) {
	_, err := testEngine().Run("preset nonsense *")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonsense")
}

func TestCanDirectGrant(t *testing.T) {
	result, err := testEngine().Run("can bob do s3:GetObject on arn:aws:s3:::data/file")
	require.NoError(t, err)

	require.Len(t, result.Notes, 1)
	assert.Contains(t, result.Notes[0], "directly")
	// bob can also escalate to admin, which trivially holds the grant.
	require.Len(t, result.Paths, 1)
	assert.Equal(t, arnAdmin, result.Paths[0][len(result.Paths[0])-1].Target)
}

func TestCanViaEscalationOnly(t *testing.T) {
	result, err := testEngine().Run("can alice do iam:DeleteUser")
	require.NoError(t, err)

	assert.Empty(t, result.Notes, "no direct grant")
	require.Len(t, result.Paths, 1, "held only through the chain to admin")
	assert.Equal(t, arnAdmin, result.Paths[0][len(result.Paths[0])-1].Target)
}

func TestCanUnknownPrincipal(t *testing.T) {
	_, err := testEngine().Run("can nobody do s3:GetObject")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no principal matches")
	assert.Contains(t, err.Error(), "nobody")

	// The query itself is well formed; a selector that matches nothing
	// is a data miss, not a parse failure.
	var parseErr *fault.ParseError
	assert.False(t, errors.As(err, &parseErr))
	var syntaxErr *fault.SyntaxError
	assert.False(t, errors.As(err, &syntaxErr))
}

func TestWhoCanDo(t *testing.T) {
	result, err := testEngine().Run("who can do iam:CreateUser")
	require.NoError(t, err)

	require.Len(t, result.Notes, 1)
	assert.Contains(t, result.Notes[0], arnAdmin)
	// alice and bob both reach admin through escalation.
	assert.Len(t, result.Paths, 2)
}

func TestReach(t *testing.T) {
	result, err := testEngine().Run("reach alice admin")
	require.NoError(t, err)

	require.Len(t, result.Paths, 1)
	assert.Len(t, result.Paths[0], 2)
}

func TestMaxDepthBoundsTraversal(t *testing.T) {
	e := testEngine()
	e.SetMaxDepth(1)

	result, err := e.Run("preset privesc alice")
	require.NoError(t, err)
	require.Len(t, result.Paths, 1, "depth 1 stops before the second hop")
	assert.Len(t, result.Paths[0], 1)
}

func TestRunDeterministic(t *testing.T) {
	e := testEngine()
	first, err := e.Run("preset privesc *")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := e.Run("preset privesc *")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPresetCatalogLoaded(t *testing.T) {
	names := make(map[string]bool)
	for _, p := range Presets() {
		names[p.Name] = true
		assert.NotEmpty(t, p.Description)
	}
	for _, want := range []string{"privesc", "admin", "assume", "connected"} {
		assert.True(t, names[want], "missing preset %q", want)
	}
}
