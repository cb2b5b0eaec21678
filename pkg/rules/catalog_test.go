package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/privmap/pkg/iam"
	"github.com/praetorian-inc/privmap/pkg/types"
)

func subject(t *testing.T, record *types.PrincipalRecord, docs ...string) *Subject {
	t.Helper()
	for _, doc := range docs {
		p, err := types.NewPolicyFromJSON([]byte(doc))
		require.NoError(t, err)
		record.Policies = append(record.Policies, p)
	}
	gs, err := iam.Resolve(record, nil, nil)
	require.NoError(t, err)
	return &Subject{Record: record, Grants: gs, Admin: gs.IsAdmin()}
}

func userRecord(name string) *types.PrincipalRecord {
	return &types.PrincipalRecord{
		Arn:  "arn:aws:iam::111111111111:user/" + name,
		Name: name,
		Kind: types.KindUser,
	}
}

func roleRecord(t *testing.T, name, trustDoc string) *types.PrincipalRecord {
	t.Helper()
	record := &types.PrincipalRecord{
		Arn:  "arn:aws:iam::111111111111:role/" + name,
		Name: name,
		Kind: types.KindRole,
	}
	if trustDoc != "" {
		trust, err := types.NewPolicyFromJSON([]byte(trustDoc))
		require.NoError(t, err)
		record.TrustPolicy = trust
	}
	return record
}

func proposalsByLabel(proposals []Proposal, label string) []Proposal {
	var out []Proposal
	for _, p := range proposals {
		if p.Label == label {
			out = append(out, p)
		}
	}
	return out
}

func TestCreatePolicyVersionSelfLoop(t *testing.T) {
	src := subject(t, userRecord("versioner"), `{
		"Version": "2012-10-17",
		"Statement": [{"Effect": "Allow", "Action": "iam:CreatePolicyVersion", "Resource": "*"}]
	}`)

	proposals := DefaultRegistry().EvaluateAll(src, []*Subject{src})
	loops := proposalsByLabel(proposals, TechniqueCreatePolicyVersion)
	require.Len(t, loops, 1)
	assert.Equal(t, src.Record.Arn, loops[0].SourceArn)
	assert.Equal(t, src.Record.Arn, loops[0].TargetArn, "self-grant technique loops onto the holder")
}

func TestPrincipalWriteTargetsMatchingKindOnly(t *testing.T) {
	src := subject(t, userRecord("attacker"), `{
		"Version": "2012-10-17",
		"Statement": [{"Effect": "Allow", "Action": "iam:PutUserPolicy", "Resource": "arn:aws:iam::111111111111:user/victim"}]
	}`)
	victim := subject(t, userRecord("victim"))
	role := subject(t, roleRecord(t, "service-role", ""))
	other := subject(t, userRecord("bystander"))

	proposals := DefaultRegistry().EvaluateAll(src, []*Subject{victim, role, other})
	writes := proposalsByLabel(proposals, TechniquePutUserPolicy)
	require.Len(t, writes, 1)
	assert.Equal(t, victim.Record.Arn, writes[0].TargetArn)
}

func TestCreateAccessKeySkipsSelf(t *testing.T) {
	src := subject(t, userRecord("keymaker"), `{
		"Version": "2012-10-17",
		"Statement": [{"Effect": "Allow", "Action": "iam:CreateAccessKey", "Resource": "*"}]
	}`)
	victim := subject(t, userRecord("victim"))

	proposals := DefaultRegistry().EvaluateAll(src, []*Subject{src, victim})
	keys := proposalsByLabel(proposals, TechniqueCreateAccessKey)
	require.Len(t, keys, 1, "a key for yourself is not an escalation")
	assert.Equal(t, victim.Record.Arn, keys[0].TargetArn)
}

func TestAssumeRoleDirectTrust(t *testing.T) {
	src := subject(t, userRecord("assumer"))
	target := subject(t, roleRecord(t, "trusting", `{
		"Version": "2012-10-17",
		"Statement": [{
			"Effect": "Allow",
			"Principal": {"AWS": "arn:aws:iam::111111111111:user/assumer"},
			"Action": "sts:AssumeRole"
		}]
	}`))

	proposals := DefaultRegistry().EvaluateAll(src, []*Subject{target})
	assumes := proposalsByLabel(proposals, TechniqueAssumeRole)
	require.Len(t, assumes, 1, "named in the trust policy, no extra permission needed")
	assert.Equal(t, target.Record.Arn, assumes[0].TargetArn)
}

func TestAssumeRoleViaAccountRootNeedsPermission(t *testing.T) {
	trustDoc := `{
		"Version": "2012-10-17",
		"Statement": [{
			"Effect": "Allow",
			"Principal": {"AWS": "arn:aws:iam::111111111111:root"},
			"Action": "sts:AssumeRole"
		}]
	}`

	without := subject(t, userRecord("without"))
	target := subject(t, roleRecord(t, "root-trusting", trustDoc))
	proposals := DefaultRegistry().EvaluateAll(without, []*Subject{target})
	assert.Empty(t, proposalsByLabel(proposals, TechniqueAssumeRole),
		"account-root trust alone does not admit a principal without sts:AssumeRole")

	with := subject(t, userRecord("with"), `{
		"Version": "2012-10-17",
		"Statement": [{"Effect": "Allow", "Action": "sts:AssumeRole", "Resource": "arn:aws:iam::111111111111:role/root-trusting"}]
	}`)
	proposals = DefaultRegistry().EvaluateAll(with, []*Subject{target})
	assert.Len(t, proposalsByLabel(proposals, TechniqueAssumeRole), 1)
}

func TestPassRoleToLambda(t *testing.T) {
	src := subject(t, userRecord("deployer"), `{
		"Version": "2012-10-17",
		"Statement": [
			{"Effect": "Allow", "Action": "lambda:CreateFunction", "Resource": "*"},
			{"Effect": "Allow", "Action": "iam:PassRole", "Resource": "arn:aws:iam::111111111111:role/lambda-exec"}
		]
	}`)
	lambdaRole := subject(t, roleRecord(t, "lambda-exec", `{
		"Version": "2012-10-17",
		"Statement": [{
			"Effect": "Allow",
			"Principal": {"Service": "lambda.amazonaws.com"},
			"Action": "sts:AssumeRole"
		}]
	}`))
	ec2Role := subject(t, roleRecord(t, "ec2-only", `{
		"Version": "2012-10-17",
		"Statement": [{
			"Effect": "Allow",
			"Principal": {"Service": "ec2.amazonaws.com"},
			"Action": "sts:AssumeRole"
		}]
	}`))

	proposals := DefaultRegistry().EvaluateAll(src, []*Subject{lambdaRole, ec2Role})
	passes := proposalsByLabel(proposals, TechniquePassRoleToLambda)
	require.Len(t, passes, 1, "only roles the Lambda service can assume qualify")
	assert.Equal(t, lambdaRole.Record.Arn, passes[0].TargetArn)
	assert.NotEmpty(t, passes[0].Precondition)
	assert.Empty(t, proposalsByLabel(proposals, TechniquePassRoleToEC2),
		"no ec2:RunInstances grant, no EC2 pass")
}

func TestAdminSourceProposesNothing(t *testing.T) {
	admin := subject(t, userRecord("root-like"), `{
		"Version": "2012-10-17",
		"Statement": [{"Effect": "Allow", "Action": "*", "Resource": "*"}]
	}`)
	victim := subject(t, userRecord("victim"))

	require.True(t, admin.Admin)
	proposals := DefaultRegistry().EvaluateAll(admin, []*Subject{victim})
	assert.Empty(t, proposals, "edges from an administrator are redundant")
}

func TestEvaluateAllDeterministic(t *testing.T) {
	src := subject(t, userRecord("multi"), `{
		"Version": "2012-10-17",
		"Statement": [
			{"Effect": "Allow", "Action": ["iam:PutUserPolicy", "iam:AttachUserPolicy"], "Resource": "arn:aws:iam::111111111111:user/victim"},
			{"Effect": "Allow", "Action": "iam:CreatePolicyVersion", "Resource": "*"}
		]
	}`)
	victim := subject(t, userRecord("victim"))

	first := DefaultRegistry().EvaluateAll(src, []*Subject{src, victim})
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, DefaultRegistry().EvaluateAll(src, []*Subject{src, victim}))
	}
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	r := NewRegistry()
	rule := &selfGrantRule{id: "X", action: "iam:CreatePolicyVersion"}
	require.NoError(t, r.Register(rule))
	assert.Error(t, r.Register(&selfGrantRule{id: "X", action: "iam:SetDefaultPolicyVersion"}))

	r.Remove("X")
	assert.NoError(t, r.Register(rule))
}
