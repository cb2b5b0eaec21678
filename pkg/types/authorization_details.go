package types

// AccountAuthorization is the normalized snapshot of an account's IAM
// identities and policies, shaped after the output of
// iam:GetAccountAuthorizationDetails so that saved dumps of that call can
// be loaded directly.
type AccountAuthorization struct {
	AccountID       string                `json:"AccountId,omitempty"`
	UserDetailList  []UserDetail          `json:"UserDetailList"`
	RoleDetailList  []RoleDetail          `json:"RoleDetailList"`
	GroupDetailList []GroupDetail         `json:"GroupDetailList"`
	Policies        []ManagedPolicyDetail `json:"Policies"`
}

// InlinePolicy is a named policy document attached directly to a
// principal.
type InlinePolicy struct {
	PolicyName     string `json:"PolicyName"`
	PolicyDocument Policy `json:"PolicyDocument"`
}

// AttachedPolicy references a managed policy by name and ARN.
type AttachedPolicy struct {
	PolicyName string `json:"PolicyName"`
	PolicyArn  string `json:"PolicyArn"`
}

type UserDetail struct {
	Arn                     string           `json:"Arn"`
	UserName                string           `json:"UserName"`
	UserId                  string           `json:"UserId"`
	Path                    string           `json:"Path"`
	CreateDate              string           `json:"CreateDate"`
	GroupList               []string         `json:"GroupList"`
	Tags                    []Tag            `json:"Tags"`
	UserPolicyList          []InlinePolicy   `json:"UserPolicyList"`
	PermissionsBoundary     AttachedPolicy   `json:"PermissionsBoundary"`
	AttachedManagedPolicies []AttachedPolicy `json:"AttachedManagedPolicies"`
}

type RoleDetail struct {
	Arn                      string           `json:"Arn"`
	RoleName                 string           `json:"RoleName"`
	RoleId                   string           `json:"RoleId"`
	Path                     string           `json:"Path"`
	CreateDate               string           `json:"CreateDate"`
	AssumeRolePolicyDocument Policy           `json:"AssumeRolePolicyDocument"`
	Tags                     []Tag            `json:"Tags"`
	RolePolicyList           []InlinePolicy   `json:"RolePolicyList"`
	PermissionsBoundary      AttachedPolicy   `json:"PermissionsBoundary"`
	AttachedManagedPolicies  []AttachedPolicy `json:"AttachedManagedPolicies"`
}

type GroupDetail struct {
	Arn                     string           `json:"Arn"`
	GroupName               string           `json:"GroupName"`
	GroupId                 string           `json:"GroupId"`
	Path                    string           `json:"Path"`
	CreateDate              string           `json:"CreateDate"`
	GroupPolicyList         []InlinePolicy   `json:"GroupPolicyList"`
	AttachedManagedPolicies []AttachedPolicy `json:"AttachedManagedPolicies"`
}

// ManagedPolicyDetail carries a managed policy with its version list; only
// the default version document participates in evaluation.
type ManagedPolicyDetail struct {
	PolicyName                    string                `json:"PolicyName"`
	PolicyId                      string                `json:"PolicyId"`
	Arn                           string                `json:"Arn"`
	Path                          string                `json:"Path"`
	DefaultVersionId              string                `json:"DefaultVersionId"`
	AttachmentCount               int                   `json:"AttachmentCount"`
	PermissionsBoundaryUsageCount int                   `json:"PermissionsBoundaryUsageCount"`
	CreateDate                    string                `json:"CreateDate"`
	UpdateDate                    string                `json:"UpdateDate"`
	PolicyVersionList             []ManagedPolicyVersion `json:"PolicyVersionList"`
}

type ManagedPolicyVersion struct {
	VersionId        string `json:"VersionId"`
	IsDefaultVersion bool   `json:"IsDefaultVersion"`
	CreateDate       string `json:"CreateDate"`
	Document         Policy `json:"Document"`
}

// DefaultDocument returns the default version's document, or nil when the
// version list does not contain one.
func (mp *ManagedPolicyDetail) DefaultDocument() *Policy {
	for i := range mp.PolicyVersionList {
		if mp.PolicyVersionList[i].IsDefaultVersion {
			return &mp.PolicyVersionList[i].Document
		}
	}
	return nil
}

type Tag struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

// PrincipalKind distinguishes the identity classes that appear as graph
// nodes.
type PrincipalKind string

const (
	KindUser     PrincipalKind = "user"
	KindRole     PrincipalKind = "role"
	KindGroup    PrincipalKind = "group"
	KindService  PrincipalKind = "service"
	KindResource PrincipalKind = "resource"
)

// PrincipalRecord is the frozen per-identity record built during
// ingestion: the principal's identity plus every policy document that
// participates in resolving its permissions. Records are immutable once a
// graph snapshot is built.
type PrincipalRecord struct {
	Arn      string        `json:"Arn"`
	Name     string        `json:"Name"`
	Kind     PrincipalKind `json:"Kind"`
	Path     string        `json:"Path,omitempty"`
	Tags     []Tag         `json:"Tags,omitempty"`
	Groups   []string      `json:"Groups,omitempty"`
	Policies []*Policy     `json:"Policies,omitempty"`
	Boundary *Policy       `json:"Boundary,omitempty"`

	// TrustPolicy is set for roles only.
	TrustPolicy *Policy `json:"TrustPolicy,omitempty"`
}

// IsRole reports whether the record describes an IAM role.
func (p *PrincipalRecord) IsRole() bool { return p.Kind == KindRole }

// IsUser reports whether the record describes an IAM user.
func (p *PrincipalRecord) IsUser() bool { return p.Kind == KindUser }
