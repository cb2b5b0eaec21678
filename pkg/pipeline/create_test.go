package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/privmap/pkg/query"
	"github.com/praetorian-inc/privmap/pkg/rules"
	"github.com/praetorian-inc/privmap/pkg/store"
)

// The dump wires a classic chain: alice can rewrite bob's inline
// policies, and bob is named in the admin role's trust policy.
const chainDump = `{
	"UserDetailList": [
		{
			"Arn": "arn:aws:iam::111111111111:user/alice",
			"UserName": "alice",
			"UserPolicyList": [
				{
					"PolicyName": "takeover",
					"PolicyDocument": {
						"Version": "2012-10-17",
						"Statement": [{"Effect": "Allow", "Action": "iam:PutUserPolicy", "Resource": "arn:aws:iam::111111111111:user/bob"}]
					}
				}
			]
		},
		{
			"Arn": "arn:aws:iam::111111111111:user/bob",
			"UserName": "bob"
		}
	],
	"RoleDetailList": [
		{
			"Arn": "arn:aws:iam::111111111111:role/admin",
			"RoleName": "admin",
			"AssumeRolePolicyDocument": {
				"Version": "2012-10-17",
				"Statement": [{"Effect": "Allow", "Principal": {"AWS": "arn:aws:iam::111111111111:user/bob"}, "Action": "sts:AssumeRole"}]
			},
			"RolePolicyList": [
				{
					"PolicyName": "full-admin",
					"PolicyDocument": {
						"Version": "2012-10-17",
						"Statement": [{"Effect": "Allow", "Action": "*", "Resource": "*"}]
					}
				}
			]
		}
	],
	"GroupDetailList": [],
	"Policies": []
}`

func writeChainDump(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gaad.json")
	require.NoError(t, os.WriteFile(path, []byte(chainDump), 0o644))
	return path
}

func TestCreateFromDump(t *testing.T) {
	st := store.New(t.TempDir())

	snapshot, err := Create(context.Background(), st, CreateOptions{
		Profile:  "default",
		GaadFile: writeChainDump(t),
	})
	require.NoError(t, err)

	assert.Equal(t, "111111111111", snapshot.AccountID, "account recovered from principal ARNs")
	assert.Len(t, snapshot.Nodes, 3)
	require.NotEmpty(t, snapshot.Grants)

	// The snapshot is on disk and answers queries after a reload.
	loaded, err := st.Load("default")
	require.NoError(t, err)

	engine := query.NewEngine(loaded.Graph(), loaded.Grants)
	result, err := engine.Run("preset admin alice")
	require.NoError(t, err)
	require.Len(t, result.Paths, 1)
	assert.Len(t, result.Paths[0], 2, "alice -> bob -> admin")
}

func TestCreateEmptyDumpFails(t *testing.T) {
	st := store.New(t.TempDir())
	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"UserDetailList": [], "RoleDetailList": [], "GroupDetailList": [], "Policies": []}`), 0o644))

	_, err := Create(context.Background(), st, CreateOptions{Profile: "default", GaadFile: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no principals")
}

func TestCreateCustomRegistry(t *testing.T) {
	st := store.New(t.TempDir())

	registry := rules.NewRegistry() // empty: no escalation techniques
	snapshot, err := Create(context.Background(), st, CreateOptions{
		Profile:  "default",
		GaadFile: writeChainDump(t),
		Registry: registry,
	})
	require.NoError(t, err)
	assert.Empty(t, snapshot.Edges, "no rules, no edges")
}
