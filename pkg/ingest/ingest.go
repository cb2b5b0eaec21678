package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"golang.org/x/sync/errgroup"

	"github.com/praetorian-inc/privmap/pkg/fault"
	"github.com/praetorian-inc/privmap/pkg/types"
)

const (
	defaultWorkers     = 8
	defaultCallTimeout = 30 * time.Second
	defaultRetryWindow = 2 * time.Minute
)

// Ingestor pulls an account's identities and policies through the IAM
// API. Independent collections are fetched in parallel under a bounded
// worker pool; throttling is retried with backoff, authorization failures
// on the top-level listings abort, and per-principal sub-fetch failures
// degrade to warnings.
type Ingestor struct {
	api IdentityAPI

	workers     int
	callTimeout time.Duration
	retryWindow time.Duration

	mu       sync.Mutex
	warnings []fault.IngestionWarning
}

func New(api IdentityAPI) *Ingestor {
	return &Ingestor{
		api:         api,
		workers:     defaultWorkers,
		callTimeout: defaultCallTimeout,
		retryWindow: defaultRetryWindow,
	}
}

// SetWorkers bounds the fetch parallelism; sized to respect provider
// rate limits. Values below 1 are ignored.
func (ing *Ingestor) SetWorkers(n int) {
	if n >= 1 {
		ing.workers = n
	}
}

func (ing *Ingestor) warn(subject, format string, args ...any) {
	ing.mu.Lock()
	ing.warnings = append(ing.warnings, fault.IngestionWarning{
		Subject: subject,
		Detail:  fmt.Sprintf(format, args...),
	})
	ing.mu.Unlock()
	slog.Warn("ingestion warning", "subject", subject, "detail", fmt.Sprintf(format, args...))
}

// call wraps one API operation with a timeout and the retry policy.
func (ing *Ingestor) call(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	return callWithRetry(ctx, operation, ing.retryWindow, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, ing.callTimeout)
		defer cancel()
		return fn(ctx)
	})
}

// Ingest fetches and normalizes the full identity set. The returned
// warnings cover every sub-resource that could not be fetched; the
// authorization snapshot contains everything that could.
func (ing *Ingestor) Ingest(ctx context.Context, accountID string) (*types.AccountAuthorization, []fault.IngestionWarning, error) {
	ing.warnings = nil

	auth := &types.AccountAuthorization{AccountID: accountID}

	// Independent collections in parallel.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		users, err := ing.listUsers(gctx)
		auth.UserDetailList = users
		return err
	})
	g.Go(func() error {
		roles, err := ing.listRoles(gctx)
		auth.RoleDetailList = roles
		return err
	})
	g.Go(func() error {
		groups, err := ing.listGroups(gctx)
		auth.GroupDetailList = groups
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	// Per-principal detail fetch under the worker pool. A permanent
	// failure for one principal's sub-resources is a warning, not a
	// build failure.
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(ing.workers)

	for i := range auth.UserDetailList {
		user := &auth.UserDetailList[i]
		g.Go(func() error { return ing.fetchUserDetail(gctx, user) })
	}
	for i := range auth.RoleDetailList {
		role := &auth.RoleDetailList[i]
		g.Go(func() error { return ing.fetchRoleDetail(gctx, role) })
	}
	for i := range auth.GroupDetailList {
		group := &auth.GroupDetailList[i]
		g.Go(func() error { return ing.fetchGroupDetail(gctx, group) })
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	// Managed policy documents, each fetched once.
	if err := ing.fetchManagedPolicies(ctx, auth); err != nil {
		return nil, nil, err
	}

	warnings := ing.Warnings()
	return auth, warnings, nil
}

// Warnings returns the accumulated warnings in a stable order.
func (ing *Ingestor) Warnings() []fault.IngestionWarning {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	out := append([]fault.IngestionWarning{}, ing.warnings...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].Detail < out[j].Detail
	})
	return out
}

func (ing *Ingestor) listUsers(ctx context.Context) ([]types.UserDetail, error) {
	var out []types.UserDetail
	var marker *string
	for {
		var page *iam.ListUsersOutput
		err := ing.call(ctx, "iam:ListUsers", func(ctx context.Context) error {
			var err error
			page, err = ing.api.ListUsers(ctx, &iam.ListUsersInput{Marker: marker})
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, u := range page.Users {
			detail := types.UserDetail{
				Arn:      aws.ToString(u.Arn),
				UserName: aws.ToString(u.UserName),
				UserId:   aws.ToString(u.UserId),
				Path:     aws.ToString(u.Path),
				Tags:     convertTags(u.Tags),
			}
			if u.PermissionsBoundary != nil {
				detail.PermissionsBoundary.PolicyArn = aws.ToString(u.PermissionsBoundary.PermissionsBoundaryArn)
			}
			out = append(out, detail)
		}
		if !page.IsTruncated {
			return out, nil
		}
		marker = page.Marker
	}
}

func (ing *Ingestor) listRoles(ctx context.Context) ([]types.RoleDetail, error) {
	var out []types.RoleDetail
	var marker *string
	for {
		var page *iam.ListRolesOutput
		err := ing.call(ctx, "iam:ListRoles", func(ctx context.Context) error {
			var err error
			page, err = ing.api.ListRoles(ctx, &iam.ListRolesInput{Marker: marker})
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, r := range page.Roles {
			detail := types.RoleDetail{
				Arn:      aws.ToString(r.Arn),
				RoleName: aws.ToString(r.RoleName),
				RoleId:   aws.ToString(r.RoleId),
				Path:     aws.ToString(r.Path),
				Tags:     convertTags(r.Tags),
			}
			if r.PermissionsBoundary != nil {
				detail.PermissionsBoundary.PolicyArn = aws.ToString(r.PermissionsBoundary.PermissionsBoundaryArn)
			}
			if doc := aws.ToString(r.AssumeRolePolicyDocument); doc != "" {
				trust, err := decodePolicyDocument(doc, detail.Arn+"/AssumeRolePolicyDocument")
				if err != nil {
					return nil, err
				}
				detail.AssumeRolePolicyDocument = *trust
			}
			out = append(out, detail)
		}
		if !page.IsTruncated {
			return out, nil
		}
		marker = page.Marker
	}
}

func (ing *Ingestor) listGroups(ctx context.Context) ([]types.GroupDetail, error) {
	var out []types.GroupDetail
	var marker *string
	for {
		var page *iam.ListGroupsOutput
		err := ing.call(ctx, "iam:ListGroups", func(ctx context.Context) error {
			var err error
			page, err = ing.api.ListGroups(ctx, &iam.ListGroupsInput{Marker: marker})
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, g := range page.Groups {
			out = append(out, types.GroupDetail{
				Arn:       aws.ToString(g.Arn),
				GroupName: aws.ToString(g.GroupName),
				GroupId:   aws.ToString(g.GroupId),
				Path:      aws.ToString(g.Path),
			})
		}
		if !page.IsTruncated {
			return out, nil
		}
		marker = page.Marker
	}
}

// fetchUserDetail fills a user's group memberships, inline policies and
// managed policy attachments. Denied sub-fetches degrade to warnings;
// malformed policy documents abort.
func (ing *Ingestor) fetchUserDetail(ctx context.Context, user *types.UserDetail) error {
	var groups *iam.ListGroupsForUserOutput
	err := ing.call(ctx, "iam:ListGroupsForUser", func(ctx context.Context) error {
		var err error
		groups, err = ing.api.ListGroupsForUser(ctx, &iam.ListGroupsForUserInput{UserName: aws.String(user.UserName)})
		return err
	})
	if err != nil {
		if !fault.IsPermanent(err) {
			return err
		}
		ing.warn(user.Arn, "could not list group memberships: %v", err)
	} else {
		for _, g := range groups.Groups {
			user.GroupList = append(user.GroupList, aws.ToString(g.GroupName))
		}
	}

	inline, attached, err := ing.fetchPrincipalPolicies(ctx, principalRef{
		arn:  user.Arn,
		name: user.UserName,
		kind: types.KindUser,
	})
	if err != nil {
		return err
	}
	user.UserPolicyList = inline
	user.AttachedManagedPolicies = attached
	return nil
}

func (ing *Ingestor) fetchRoleDetail(ctx context.Context, role *types.RoleDetail) error {
	inline, attached, err := ing.fetchPrincipalPolicies(ctx, principalRef{
		arn:  role.Arn,
		name: role.RoleName,
		kind: types.KindRole,
	})
	if err != nil {
		return err
	}
	role.RolePolicyList = inline
	role.AttachedManagedPolicies = attached
	return nil
}

func (ing *Ingestor) fetchGroupDetail(ctx context.Context, group *types.GroupDetail) error {
	inline, attached, err := ing.fetchPrincipalPolicies(ctx, principalRef{
		arn:  group.Arn,
		name: group.GroupName,
		kind: types.KindGroup,
	})
	if err != nil {
		return err
	}
	group.GroupPolicyList = inline
	group.AttachedManagedPolicies = attached
	return nil
}

type principalRef struct {
	arn  string
	name string
	kind types.PrincipalKind
}

// fetchPrincipalPolicies pulls one principal's inline policy documents
// and managed policy attachments through the kind-specific API calls.
func (ing *Ingestor) fetchPrincipalPolicies(ctx context.Context, ref principalRef) ([]types.InlinePolicy, []types.AttachedPolicy, error) {
	names, err := ing.listInlinePolicyNames(ctx, ref)
	if err != nil {
		if !fault.IsPermanent(err) {
			return nil, nil, err
		}
		ing.warn(ref.arn, "could not list inline policies: %v", err)
		names = nil
	}

	var inline []types.InlinePolicy
	for _, name := range names {
		doc, err := ing.getInlinePolicy(ctx, ref, name)
		if err != nil {
			if fault.IsPermanent(err) {
				ing.warn(ref.arn, "could not fetch inline policy %q: %v", name, err)
				continue
			}
			// Malformed documents and exhausted retries abort the build.
			return nil, nil, err
		}
		inline = append(inline, types.InlinePolicy{PolicyName: name, PolicyDocument: *doc})
	}

	attached, err := ing.listAttachedPolicies(ctx, ref)
	if err != nil {
		if !fault.IsPermanent(err) {
			return nil, nil, err
		}
		ing.warn(ref.arn, "could not list attached policies: %v", err)
		attached = nil
	}
	return inline, attached, nil
}

func (ing *Ingestor) listInlinePolicyNames(ctx context.Context, ref principalRef) ([]string, error) {
	var names []string
	var marker *string
	for {
		var page struct {
			names       []string
			isTruncated bool
			marker      *string
		}
		err := ing.call(ctx, "iam:List"+string(ref.kind)+"Policies", func(ctx context.Context) error {
			switch ref.kind {
			case types.KindUser:
				out, err := ing.api.ListUserPolicies(ctx, &iam.ListUserPoliciesInput{UserName: aws.String(ref.name), Marker: marker})
				if err != nil {
					return err
				}
				page.names, page.isTruncated, page.marker = out.PolicyNames, out.IsTruncated, out.Marker
			case types.KindRole:
				out, err := ing.api.ListRolePolicies(ctx, &iam.ListRolePoliciesInput{RoleName: aws.String(ref.name), Marker: marker})
				if err != nil {
					return err
				}
				page.names, page.isTruncated, page.marker = out.PolicyNames, out.IsTruncated, out.Marker
			case types.KindGroup:
				out, err := ing.api.ListGroupPolicies(ctx, &iam.ListGroupPoliciesInput{GroupName: aws.String(ref.name), Marker: marker})
				if err != nil {
					return err
				}
				page.names, page.isTruncated, page.marker = out.PolicyNames, out.IsTruncated, out.Marker
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		names = append(names, page.names...)
		if !page.isTruncated {
			return names, nil
		}
		marker = page.marker
	}
}

func (ing *Ingestor) getInlinePolicy(ctx context.Context, ref principalRef, policyName string) (*types.Policy, error) {
	var raw string
	err := ing.call(ctx, "iam:Get"+string(ref.kind)+"Policy", func(ctx context.Context) error {
		switch ref.kind {
		case types.KindUser:
			out, err := ing.api.GetUserPolicy(ctx, &iam.GetUserPolicyInput{UserName: aws.String(ref.name), PolicyName: aws.String(policyName)})
			if err != nil {
				return err
			}
			raw = aws.ToString(out.PolicyDocument)
		case types.KindRole:
			out, err := ing.api.GetRolePolicy(ctx, &iam.GetRolePolicyInput{RoleName: aws.String(ref.name), PolicyName: aws.String(policyName)})
			if err != nil {
				return err
			}
			raw = aws.ToString(out.PolicyDocument)
		case types.KindGroup:
			out, err := ing.api.GetGroupPolicy(ctx, &iam.GetGroupPolicyInput{GroupName: aws.String(ref.name), PolicyName: aws.String(policyName)})
			if err != nil {
				return err
			}
			raw = aws.ToString(out.PolicyDocument)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decodePolicyDocument(raw, ref.arn+"/"+policyName)
}

func (ing *Ingestor) listAttachedPolicies(ctx context.Context, ref principalRef) ([]types.AttachedPolicy, error) {
	var out []types.AttachedPolicy
	var marker *string
	for {
		var attached []iamtypes.AttachedPolicy
		var isTruncated bool
		err := ing.call(ctx, "iam:ListAttached"+string(ref.kind)+"Policies", func(ctx context.Context) error {
			switch ref.kind {
			case types.KindUser:
				page, err := ing.api.ListAttachedUserPolicies(ctx, &iam.ListAttachedUserPoliciesInput{UserName: aws.String(ref.name), Marker: marker})
				if err != nil {
					return err
				}
				attached, isTruncated, marker = page.AttachedPolicies, page.IsTruncated, page.Marker
			case types.KindRole:
				page, err := ing.api.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{RoleName: aws.String(ref.name), Marker: marker})
				if err != nil {
					return err
				}
				attached, isTruncated, marker = page.AttachedPolicies, page.IsTruncated, page.Marker
			case types.KindGroup:
				page, err := ing.api.ListAttachedGroupPolicies(ctx, &iam.ListAttachedGroupPoliciesInput{GroupName: aws.String(ref.name), Marker: marker})
				if err != nil {
					return err
				}
				attached, isTruncated, marker = page.AttachedPolicies, page.IsTruncated, page.Marker
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		for _, a := range attached {
			out = append(out, types.AttachedPolicy{
				PolicyName: aws.ToString(a.PolicyName),
				PolicyArn:  aws.ToString(a.PolicyArn),
			})
		}
		if !isTruncated {
			return out, nil
		}
	}
}

// fetchManagedPolicies resolves every referenced managed policy ARN
// (attachments and boundaries) to its default version document, each ARN
// fetched exactly once under the worker pool.
func (ing *Ingestor) fetchManagedPolicies(ctx context.Context, auth *types.AccountAuthorization) error {
	arns := make(map[string]struct{})
	collect := func(attachments []types.AttachedPolicy, boundary types.AttachedPolicy) {
		for _, a := range attachments {
			if a.PolicyArn != "" {
				arns[a.PolicyArn] = struct{}{}
			}
		}
		if boundary.PolicyArn != "" {
			arns[boundary.PolicyArn] = struct{}{}
		}
	}
	for _, u := range auth.UserDetailList {
		collect(u.AttachedManagedPolicies, u.PermissionsBoundary)
	}
	for _, r := range auth.RoleDetailList {
		collect(r.AttachedManagedPolicies, r.PermissionsBoundary)
	}
	for _, g := range auth.GroupDetailList {
		collect(g.AttachedManagedPolicies, types.AttachedPolicy{})
	}

	sorted := make([]string, 0, len(arns))
	for arn := range arns {
		sorted = append(sorted, arn)
	}
	sort.Strings(sorted)

	results := make([]*types.ManagedPolicyDetail, len(sorted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ing.workers)
	for i, arn := range sorted {
		g.Go(func() error {
			detail, err := ing.fetchManagedPolicy(gctx, arn)
			if err != nil {
				if fault.IsPermanent(err) {
					ing.warn(arn, "could not fetch managed policy: %v", err)
					return nil
				}
				return err
			}
			results[i] = detail
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, detail := range results {
		if detail != nil {
			auth.Policies = append(auth.Policies, *detail)
		}
	}
	return nil
}

func (ing *Ingestor) fetchManagedPolicy(ctx context.Context, policyArn string) (*types.ManagedPolicyDetail, error) {
	var meta *iam.GetPolicyOutput
	err := ing.call(ctx, "iam:GetPolicy", func(ctx context.Context) error {
		var err error
		meta, err = ing.api.GetPolicy(ctx, &iam.GetPolicyInput{PolicyArn: aws.String(policyArn)})
		return err
	})
	if err != nil {
		return nil, err
	}

	versionID := aws.ToString(meta.Policy.DefaultVersionId)
	var version *iam.GetPolicyVersionOutput
	err = ing.call(ctx, "iam:GetPolicyVersion", func(ctx context.Context) error {
		var err error
		version, err = ing.api.GetPolicyVersion(ctx, &iam.GetPolicyVersionInput{
			PolicyArn: aws.String(policyArn),
			VersionId: aws.String(versionID),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	doc, err := decodePolicyDocument(aws.ToString(version.PolicyVersion.Document), policyArn)
	if err != nil {
		return nil, err
	}

	return &types.ManagedPolicyDetail{
		PolicyName:       aws.ToString(meta.Policy.PolicyName),
		PolicyId:         aws.ToString(meta.Policy.PolicyId),
		Arn:              policyArn,
		Path:             aws.ToString(meta.Policy.Path),
		DefaultVersionId: versionID,
		PolicyVersionList: []types.ManagedPolicyVersion{
			{VersionId: versionID, IsDefaultVersion: true, Document: *doc},
		},
	}, nil
}

// decodePolicyDocument unescapes the URL-encoded JSON the IAM API
// returns and parses it, attributing failures to the named document.
func decodePolicyDocument(raw, origin string) (*types.Policy, error) {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return nil, &fault.ParseError{Document: origin, Err: err}
	}
	policy, err := types.NewPolicyFromJSON([]byte(decoded))
	if err != nil {
		return nil, &fault.ParseError{Document: origin, Err: err}
	}
	policy.Origin = origin
	return policy, nil
}

func convertTags(tags []iamtypes.Tag) []types.Tag {
	out := make([]types.Tag, 0, len(tags))
	for _, t := range tags {
		out = append(out, types.Tag{Key: aws.ToString(t.Key), Value: aws.ToString(t.Value)})
	}
	return out
}
