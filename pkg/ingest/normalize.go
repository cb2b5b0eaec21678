package ingest

import (
	"fmt"

	"github.com/praetorian-inc/privmap/pkg/fault"
	"github.com/praetorian-inc/privmap/pkg/types"
)

// Normalize flattens an authorization snapshot into principal records:
// inline policies and resolved managed-policy documents per principal,
// boundaries attached, role trust policies carried over. Dangling
// managed-policy references become warnings; the referencing principal is
// kept with the documents that did resolve.
func Normalize(auth *types.AccountAuthorization) ([]*types.PrincipalRecord, []fault.IngestionWarning) {
	var warnings []fault.IngestionWarning
	warn := func(subject, format string, args ...any) {
		warnings = append(warnings, fault.IngestionWarning{
			Subject: subject,
			Detail:  fmt.Sprintf(format, args...),
		})
	}

	managed := make(map[string]*types.Policy, len(auth.Policies))
	for i := range auth.Policies {
		mp := &auth.Policies[i]
		doc := mp.DefaultDocument()
		if doc == nil {
			warn(mp.Arn, "managed policy has no default version document")
			continue
		}
		if doc.Origin == "" {
			doc.Origin = mp.Arn
		}
		managed[mp.Arn] = doc
	}

	resolveAttached := func(owner string, attachments []types.AttachedPolicy) []*types.Policy {
		var docs []*types.Policy
		for _, a := range attachments {
			doc, ok := managed[a.PolicyArn]
			if !ok {
				warn(owner, "attached policy %s was not ingested", a.PolicyArn)
				continue
			}
			docs = append(docs, doc)
		}
		return docs
	}

	resolveBoundary := func(owner string, boundary types.AttachedPolicy) *types.Policy {
		if boundary.PolicyArn == "" {
			return nil
		}
		doc, ok := managed[boundary.PolicyArn]
		if !ok {
			warn(owner, "permission boundary %s was not ingested", boundary.PolicyArn)
			return nil
		}
		return doc
	}

	inlineDocs := func(owner string, inline []types.InlinePolicy) []*types.Policy {
		docs := make([]*types.Policy, 0, len(inline))
		for i := range inline {
			doc := inline[i].PolicyDocument
			if doc.Origin == "" {
				doc.Origin = owner + "/" + inline[i].PolicyName
			}
			docs = append(docs, &doc)
		}
		return docs
	}

	var records []*types.PrincipalRecord

	for i := range auth.UserDetailList {
		u := &auth.UserDetailList[i]
		records = append(records, &types.PrincipalRecord{
			Arn:      u.Arn,
			Name:     u.UserName,
			Kind:     types.KindUser,
			Path:     u.Path,
			Tags:     u.Tags,
			Groups:   u.GroupList,
			Policies: append(inlineDocs(u.Arn, u.UserPolicyList), resolveAttached(u.Arn, u.AttachedManagedPolicies)...),
			Boundary: resolveBoundary(u.Arn, u.PermissionsBoundary),
		})
	}

	for i := range auth.RoleDetailList {
		r := &auth.RoleDetailList[i]
		record := &types.PrincipalRecord{
			Arn:      r.Arn,
			Name:     r.RoleName,
			Kind:     types.KindRole,
			Path:     r.Path,
			Tags:     r.Tags,
			Policies: append(inlineDocs(r.Arn, r.RolePolicyList), resolveAttached(r.Arn, r.AttachedManagedPolicies)...),
			Boundary: resolveBoundary(r.Arn, r.PermissionsBoundary),
		}
		if r.AssumeRolePolicyDocument.Statement != nil {
			trust := r.AssumeRolePolicyDocument
			if trust.Origin == "" {
				trust.Origin = r.Arn + "/AssumeRolePolicyDocument"
			}
			record.TrustPolicy = &trust
		}
		records = append(records, record)
	}

	for i := range auth.GroupDetailList {
		g := &auth.GroupDetailList[i]
		records = append(records, &types.PrincipalRecord{
			Arn:      g.Arn,
			Name:     g.GroupName,
			Kind:     types.KindGroup,
			Path:     g.Path,
			Policies: append(inlineDocs(g.Arn, g.GroupPolicyList), resolveAttached(g.Arn, g.AttachedManagedPolicies)...),
		})
	}

	return records, warnings
}
