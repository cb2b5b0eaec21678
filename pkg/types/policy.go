package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// https://docs.aws.amazon.com/IAM/latest/UserGuide/reference_policies_elements.html
type Policy struct {
	Id        string               `json:"Id,omitempty"`
	Version   string               `json:"Version,omitempty"`
	Statement *PolicyStatementList `json:"Statement"`

	// Origin records where the document came from (policy ARN or
	// "<principal-arn>/<policy-name>" for inline policies) so that
	// evaluation failures can name the offending document.
	Origin string `json:"Origin,omitempty"`
}

func NewPolicyFromJSON(data []byte) (*Policy, error) {
	var policy Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, err
	}

	if policy.Statement == nil || len(*policy.Statement) == 0 {
		return nil, fmt.Errorf("empty statements in policy")
	}

	return &policy, nil
}

// Hash returns a stable digest of the policy content, used for caching
// resolved permissions keyed by (principal, policy set).
func (pol *Policy) Hash() string {
	data, err := json.Marshal(pol)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashPolicies digests an ordered policy set into a single cache key.
func HashPolicies(policies []*Policy) string {
	hashes := make([]string, 0, len(policies))
	for _, p := range policies {
		hashes = append(hashes, p.Hash())
	}
	sort.Strings(hashes)
	joined := ""
	for _, h := range hashes {
		joined += h
	}
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

type PolicyStatementList []PolicyStatement

func (pol *PolicyStatementList) UnmarshalJSON(rawData []byte) error {
	var retSingle PolicyStatement
	var retSlice []PolicyStatement
	if err := json.Unmarshal(rawData, &retSingle); err == nil {
		*pol = append(*pol, retSingle)
		return nil
	} else if err := json.Unmarshal(rawData, &retSlice); err == nil {
		*pol = retSlice
		return nil
	} else {
		return fmt.Errorf("statement list is neither an object nor an array: %v", string(rawData))
	}
}

type PolicyStatement struct {
	Sid          string      `json:"Sid,omitempty"`
	Effect       string      `json:"Effect"`
	Principal    *Principal  `json:"Principal,omitempty"`
	NotPrincipal *Principal  `json:"NotPrincipal,omitempty"`
	Action       *DynaString `json:"Action,omitempty"`
	NotAction    *DynaString `json:"NotAction,omitempty"`
	Resource     *DynaString `json:"Resource,omitempty"`
	NotResource  *DynaString `json:"NotResource,omitempty"`
	Condition    *Condition  `json:"Condition,omitempty"`

	// Origin tracks the source document of the statement throughout
	// evaluation.
	Origin string `json:"Origin,omitempty"`
}

// IsAllow reports whether the statement's effect is Allow. Effect values
// other than "Allow" and "Deny" are rejected during validation, so the
// negative case always means an explicit deny.
func (stmt *PolicyStatement) IsAllow() bool {
	return stmt.Effect == "Allow"
}

// Validate checks the structural constraints every statement must satisfy
// before evaluation: a known effect and at least one action and resource
// pattern (or their Not* counterparts, or a Principal element for trust
// policies).
func (stmt *PolicyStatement) Validate() error {
	if stmt.Effect != "Allow" && stmt.Effect != "Deny" {
		return fmt.Errorf("statement %q: effect must be Allow or Deny, got %q", stmt.Sid, stmt.Effect)
	}
	if stmt.Action == nil && stmt.NotAction == nil {
		return fmt.Errorf("statement %q: missing Action element", stmt.Sid)
	}
	if stmt.Resource == nil && stmt.NotResource == nil && stmt.Principal == nil && stmt.NotPrincipal == nil {
		return fmt.Errorf("statement %q: missing Resource element", stmt.Sid)
	}
	return nil
}

// Actions returns the statement's action patterns, empty when only
// NotAction is set.
func (stmt *PolicyStatement) Actions() []string {
	if stmt.Action == nil {
		return nil
	}
	return *stmt.Action
}

// Resources returns the statement's resource patterns, empty when only
// NotResource is set.
func (stmt *PolicyStatement) Resources() []string {
	if stmt.Resource == nil {
		return nil
	}
	return *stmt.Resource
}

type Principal struct {
	AWS           *DynaString `json:"AWS,omitempty"`
	Service       *DynaString `json:"Service,omitempty"`
	Federated     *DynaString `json:"Federated,omitempty"`
	CanonicalUser *DynaString `json:"CanonicalUser,omitempty"`
}

func (p *Principal) UnmarshalJSON(rawData []byte) error {
	if string(rawData) == `"*"` {
		star := DynaString{"*"}

		*p = Principal{
			AWS:           &star,
			Service:       &star,
			Federated:     &star,
			CanonicalUser: &star,
		}

		return nil
	}

	type tmpPrincipal Principal
	var retPrincipal tmpPrincipal
	if err := json.Unmarshal(rawData, &retPrincipal); err != nil {
		return fmt.Errorf("unexpected principal element: %v", string(rawData))
	}
	*p = Principal(retPrincipal)
	return nil
}

// AWSPrincipals returns the ARN-style principals of the element.
func (p *Principal) AWSPrincipals() []string {
	if p == nil || p.AWS == nil {
		return nil
	}
	return *p.AWS
}

// ServicePrincipals returns the service principals (e.g.
// lambda.amazonaws.com) of the element.
func (p *Principal) ServicePrincipals() []string {
	if p == nil || p.Service == nil {
		return nil
	}
	return *p.Service
}

type Condition map[string]ConditionStatement

type ConditionStatement map[string]DynaString

// DynaString is a string list that also unmarshals from a bare JSON
// string, matching the two forms IAM documents use for Action, Resource
// and principal values.
type DynaString []string

func NewDynaString(values []string) *DynaString {
	ds := DynaString(values)
	return &ds
}

func (dyna *DynaString) UnmarshalJSON(rawData []byte) error {
	var retString string
	var retSlice []string
	if err := json.Unmarshal(rawData, &retString); err == nil {
		*dyna = append(*dyna, retString)
		return nil
	} else if err := json.Unmarshal(rawData, &retSlice); err == nil {
		*dyna = retSlice
		return nil
	} else {
		return fmt.Errorf("value is neither a string nor a string array: %v", string(rawData))
	}
}

func (dyna DynaString) Contains(value string) bool {
	for _, v := range dyna {
		if v == value {
			return true
		}
	}
	return false
}
