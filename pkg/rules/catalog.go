package rules

import (
	"fmt"

	"github.com/praetorian-inc/privmap/pkg/types"
)

// Technique identifiers. These are stable: persisted graphs and preset
// queries reference them by name.
const (
	TechniqueCreatePolicyVersion     = "CreatePolicyVersion"
	TechniqueSetDefaultPolicyVersion = "SetDefaultPolicyVersion"
	TechniqueAttachUserPolicy        = "AttachUserPolicy"
	TechniqueAttachRolePolicy        = "AttachRolePolicy"
	TechniqueAttachGroupPolicy       = "AttachGroupPolicy"
	TechniquePutUserPolicy           = "PutUserPolicy"
	TechniquePutRolePolicy           = "PutRolePolicy"
	TechniquePutGroupPolicy          = "PutGroupPolicy"
	TechniqueAddUserToGroup          = "AddUserToGroup"
	TechniqueCreateAccessKey         = "CreateAccessKey"
	TechniqueCreateLoginProfile      = "CreateLoginProfile"
	TechniqueUpdateLoginProfile      = "UpdateLoginProfile"
	TechniqueUpdateAssumeRolePolicy  = "UpdateAssumeRolePolicy"
	TechniqueAssumeRole              = "AssumeRole"
	TechniquePassRoleToLambda        = "PassRoleToLambda"
	TechniquePassRoleToEC2           = "PassRoleToEC2"
	TechniqueUpdateFunctionCode      = "UpdateFunctionCode"
)

// DefaultRegistry returns the built-in technique catalog.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, rule := range []Rule{
		&selfGrantRule{
			id:          TechniqueCreatePolicyVersion,
			description: "can create a new version of an attached customer managed policy with arbitrary permissions",
			action:      "iam:CreatePolicyVersion",
		},
		&selfGrantRule{
			id:          TechniqueSetDefaultPolicyVersion,
			description: "can switch the default version of an attached policy to a more permissive one",
			action:      "iam:SetDefaultPolicyVersion",
		},
		&principalWriteRule{
			id:          TechniqueAttachUserPolicy,
			description: "can attach an arbitrary managed policy to the user",
			action:      "iam:AttachUserPolicy",
			targetKind:  types.KindUser,
		},
		&principalWriteRule{
			id:          TechniqueAttachRolePolicy,
			description: "can attach an arbitrary managed policy to the role",
			action:      "iam:AttachRolePolicy",
			targetKind:  types.KindRole,
		},
		&principalWriteRule{
			id:          TechniqueAttachGroupPolicy,
			description: "can attach an arbitrary managed policy to the group",
			action:      "iam:AttachGroupPolicy",
			targetKind:  types.KindGroup,
		},
		&principalWriteRule{
			id:          TechniquePutUserPolicy,
			description: "can write an inline policy for the user",
			action:      "iam:PutUserPolicy",
			targetKind:  types.KindUser,
		},
		&principalWriteRule{
			id:          TechniquePutRolePolicy,
			description: "can write an inline policy for the role",
			action:      "iam:PutRolePolicy",
			targetKind:  types.KindRole,
		},
		&principalWriteRule{
			id:          TechniquePutGroupPolicy,
			description: "can write an inline policy for the group",
			action:      "iam:PutGroupPolicy",
			targetKind:  types.KindGroup,
		},
		&principalWriteRule{
			id:          TechniqueAddUserToGroup,
			description: "can add themselves or another user to the group",
			action:      "iam:AddUserToGroup",
			targetKind:  types.KindGroup,
		},
		&principalWriteRule{
			id:          TechniqueCreateAccessKey,
			description: "can create an access key for the user",
			action:      "iam:CreateAccessKey",
			targetKind:  types.KindUser,
			skipSelf:    true,
		},
		&principalWriteRule{
			id:           TechniqueCreateLoginProfile,
			description:  "can set a console password for the user",
			action:       "iam:CreateLoginProfile",
			targetKind:   types.KindUser,
			skipSelf:     true,
			precondition: "user has no existing login profile",
		},
		&principalWriteRule{
			id:          TechniqueUpdateLoginProfile,
			description: "can change the console password of the user",
			action:      "iam:UpdateLoginProfile",
			targetKind:  types.KindUser,
			skipSelf:    true,
		},
		&principalWriteRule{
			id:          TechniqueUpdateAssumeRolePolicy,
			description: "can rewrite the trust policy of the role and then assume it",
			action:      "iam:UpdateAssumeRolePolicy",
			targetKind:  types.KindRole,
		},
		&assumeRoleRule{},
		&passRoleRule{
			id:           TechniquePassRoleToLambda,
			description:  "can create a Lambda function with arbitrary code and pass the role to it",
			companion:    "lambda:CreateFunction",
			service:      "lambda.amazonaws.com",
			precondition: "iam:PassedToService=lambda.amazonaws.com",
		},
		&passRoleRule{
			id:           TechniquePassRoleToEC2,
			description:  "can launch an EC2 instance with the role's instance profile and reach its credentials over IMDS",
			companion:    "ec2:RunInstances",
			service:      "ec2.amazonaws.com",
			precondition: "iam:PassedToService=ec2.amazonaws.com",
		},
		&updateFunctionCodeRule{},
	} {
		// Identifiers are unique constants; a collision is a programming
		// error.
		if err := r.Register(rule); err != nil {
			panic(err)
		}
	}
	return r
}

// selfGrantRule covers techniques that elevate the holder directly, with
// no second principal involved. Holding the action account-wide yields a
// self-loop edge.
type selfGrantRule struct {
	id          string
	description string
	action      string
}

func (r *selfGrantRule) ID() string          { return r.id }
func (r *selfGrantRule) Description() string { return r.description }

func (r *selfGrantRule) Evaluate(src *Subject, _ []*Subject) []Proposal {
	allowed, conditional := src.Grants.AllowsDetail(r.action, "*")
	if !allowed {
		return nil
	}
	p := Proposal{
		SourceArn: src.Record.Arn,
		TargetArn: src.Record.Arn,
		Label:     r.id,
		Reason:    fmt.Sprintf("%s %s", src.Record.Name, r.description),
	}
	if conditional {
		p.Precondition = "policy condition must be satisfiable"
	}
	return []Proposal{p}
}

// principalWriteRule covers techniques that take over a specific target
// principal by writing to it (policy attachment, credentials, group
// membership).
type principalWriteRule struct {
	id           string
	description  string
	action       string
	targetKind   types.PrincipalKind
	skipSelf     bool
	precondition string
}

func (r *principalWriteRule) ID() string          { return r.id }
func (r *principalWriteRule) Description() string { return r.description }

func (r *principalWriteRule) Evaluate(src *Subject, candidates []*Subject) []Proposal {
	var out []Proposal
	for _, target := range candidates {
		if target.Record.Kind != r.targetKind {
			continue
		}
		if r.skipSelf && target.Record.Arn == src.Record.Arn {
			continue
		}
		allowed, conditional := src.Grants.AllowsDetail(r.action, target.Record.Arn)
		if !allowed {
			continue
		}
		p := Proposal{
			SourceArn:    src.Record.Arn,
			TargetArn:    target.Record.Arn,
			Label:        r.id,
			Reason:       fmt.Sprintf("%s %s %s", src.Record.Name, r.description, target.Record.Name),
			Precondition: r.precondition,
		}
		if conditional && p.Precondition == "" {
			p.Precondition = "policy condition must be satisfiable"
		}
		out = append(out, p)
	}
	return out
}

// assumeRoleRule emits the direct sts:AssumeRole edges: the target role's
// trust policy admits the source, either by naming its ARN or by trusting
// the account root while the source also holds sts:AssumeRole on the
// role.
type assumeRoleRule struct{}

func (r *assumeRoleRule) ID() string { return TechniqueAssumeRole }
func (r *assumeRoleRule) Description() string {
	return "is trusted by the role and can assume it"
}

func (r *assumeRoleRule) Evaluate(src *Subject, candidates []*Subject) []Proposal {
	var out []Proposal
	for _, target := range candidates {
		if !target.Record.IsRole() || target.Record.Arn == src.Record.Arn {
			continue
		}
		admitted, viaRoot := trustAdmitsPrincipal(target.Record.TrustPolicy, src.Record.Arn)
		if !admitted {
			continue
		}
		if viaRoot && !src.Grants.Allows("sts:AssumeRole", target.Record.Arn) {
			continue
		}
		out = append(out, Proposal{
			SourceArn: src.Record.Arn,
			TargetArn: target.Record.Arn,
			Label:     TechniqueAssumeRole,
			Reason:    fmt.Sprintf("%s can assume %s via its trust policy", src.Record.Name, target.Record.Name),
		})
	}
	return out
}

// passRoleRule covers the service-intermediated techniques: the source
// passes a target role to a compute service it controls, and the service
// runs attacker code with the role's credentials. The target's trust
// policy must admit the service principal.
type passRoleRule struct {
	id           string
	description  string
	companion    string
	service      string
	precondition string
}

func (r *passRoleRule) ID() string          { return r.id }
func (r *passRoleRule) Description() string { return r.description }

func (r *passRoleRule) Evaluate(src *Subject, candidates []*Subject) []Proposal {
	if !src.Grants.Allows(r.companion, "*") {
		return nil
	}
	var out []Proposal
	for _, target := range candidates {
		if !target.Record.IsRole() || target.Record.Arn == src.Record.Arn {
			continue
		}
		if !trustAdmitsService(target.Record.TrustPolicy, r.service) {
			continue
		}
		if !src.Grants.Allows("iam:PassRole", target.Record.Arn) {
			continue
		}
		out = append(out, Proposal{
			SourceArn:    src.Record.Arn,
			TargetArn:    target.Record.Arn,
			Label:        r.id,
			Reason:       fmt.Sprintf("%s %s %s", src.Record.Name, r.description, target.Record.Name),
			Precondition: r.precondition,
		})
	}
	return out
}

// updateFunctionCodeRule covers code injection into existing Lambda
// functions: rewriting a function's code yields the credentials of any
// role the Lambda service can assume. Whether a function currently uses
// the role is not visible from IAM data alone, so the edge carries that
// as a precondition.
type updateFunctionCodeRule struct{}

func (r *updateFunctionCodeRule) ID() string { return TechniqueUpdateFunctionCode }
func (r *updateFunctionCodeRule) Description() string {
	return "can rewrite the code of an existing Lambda function executing as the role"
}

func (r *updateFunctionCodeRule) Evaluate(src *Subject, candidates []*Subject) []Proposal {
	if !src.Grants.Allows("lambda:UpdateFunctionCode", "*") {
		return nil
	}
	var out []Proposal
	for _, target := range candidates {
		if !target.Record.IsRole() || target.Record.Arn == src.Record.Arn {
			continue
		}
		if !trustAdmitsService(target.Record.TrustPolicy, "lambda.amazonaws.com") {
			continue
		}
		out = append(out, Proposal{
			SourceArn:    src.Record.Arn,
			TargetArn:    target.Record.Arn,
			Label:        TechniqueUpdateFunctionCode,
			Reason:       fmt.Sprintf("%s %s %s", src.Record.Name, r.Description(), target.Record.Name),
			Precondition: "an existing function must execute as the role",
		})
	}
	return out
}

// trustAdmitsPrincipal checks a role trust policy for an Allow of
// sts:AssumeRole to the given principal ARN. viaRoot is set when the
// admission comes through the account root principal rather than the ARN
// itself, in which case the caller must also hold the permission.
func trustAdmitsPrincipal(trust *types.Policy, principalArn string) (admitted, viaRoot bool) {
	if trust == nil || trust.Statement == nil {
		return false, false
	}
	for _, stmt := range *trust.Statement {
		if !stmt.IsAllow() || stmt.Principal == nil {
			continue
		}
		if !actionListMatches(stmt.Action, "sts:AssumeRole") {
			continue
		}
		for _, p := range stmt.Principal.AWSPrincipals() {
			switch {
			case p == principalArn || p == "*":
				return true, false
			case isAccountRoot(p):
				viaRoot = true
			}
		}
	}
	return viaRoot, viaRoot
}

// trustAdmitsService checks a role trust policy for an Allow of
// sts:AssumeRole to a service principal.
func trustAdmitsService(trust *types.Policy, service string) bool {
	if trust == nil || trust.Statement == nil {
		return false
	}
	for _, stmt := range *trust.Statement {
		if !stmt.IsAllow() || stmt.Principal == nil {
			continue
		}
		if !actionListMatches(stmt.Action, "sts:AssumeRole") {
			continue
		}
		for _, p := range stmt.Principal.ServicePrincipals() {
			if p == service || p == "*" {
				return true
			}
		}
	}
	return false
}

func actionListMatches(actions *types.DynaString, action string) bool {
	if actions == nil {
		return false
	}
	for _, a := range *actions {
		if a == action || a == "sts:*" || a == "*" {
			return true
		}
	}
	return false
}

func isAccountRoot(principal string) bool {
	const prefix = "arn:aws:iam::"
	const suffix = ":root"
	return len(principal) > len(prefix)+len(suffix) &&
		principal[:len(prefix)] == prefix &&
		principal[len(principal)-len(suffix):] == suffix
}
