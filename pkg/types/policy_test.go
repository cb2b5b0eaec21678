package types

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestNewPolicyFromJSON(t *testing.T) {
	testCases := []struct {
		name        string
		input       string
		expectError bool
		policy      *Policy
	}{
		{
			name: "Valid policy",
			input: `{
				"Version": "2012-10-17",
				"Statement": [
					{
						"Effect": "Allow",
						"Action": "s3:GetObject",
						"Resource": "arn:aws:s3:::example-bucket/*"
					}
				]
			}`,
			policy: &Policy{
				Version: "2012-10-17",
				Statement: &PolicyStatementList{
					{
						Effect:   "Allow",
						Action:   NewDynaString([]string{"s3:GetObject"}),
						Resource: NewDynaString([]string{"arn:aws:s3:::example-bucket/*"}),
					},
				},
			},
		},
		{
			name: "Single statement object",
			input: `{
				"Version": "2012-10-17",
				"Statement": {
					"Effect": "Deny",
					"Action": ["iam:*", "sts:AssumeRole"],
					"Resource": "*"
				}
			}`,
			policy: &Policy{
				Version: "2012-10-17",
				Statement: &PolicyStatementList{
					{
						Effect:   "Deny",
						Action:   NewDynaString([]string{"iam:*", "sts:AssumeRole"}),
						Resource: NewDynaString([]string{"*"}),
					},
				},
			},
		},
		{
			name: "Empty statements",
			input: `{
				"Version": "2012-10-17",
				"Statement": []
			}`,
			expectError: true,
		},
		{
			name: "Invalid JSON",
			input: `{
				"Version": "2012-10-17",
				"Statement": [
			`,
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			policy, err := NewPolicyFromJSON([]byte(tc.input))
			if (err != nil) != tc.expectError {
				t.Errorf("Expected error: %v, got: %v", tc.expectError, err)
			} else if tc.policy != nil && policy != nil {
				if !reflect.DeepEqual(policy, tc.policy) {
					t.Errorf("Expected policy: %v, got: %v", tc.policy, policy)
				}
			}
		})
	}
}

func TestPrincipalUnmarshalStar(t *testing.T) {
	var p Principal
	if err := json.Unmarshal([]byte(`"*"`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := p.AWSPrincipals(); !reflect.DeepEqual(got, []string{"*"}) {
		t.Errorf("AWS principals = %v, want [*]", got)
	}
	if got := p.ServicePrincipals(); !reflect.DeepEqual(got, []string{"*"}) {
		t.Errorf("Service principals = %v, want [*]", got)
	}
}

func TestStatementValidate(t *testing.T) {
	testCases := []struct {
		name        string
		stmt        PolicyStatement
		expectError bool
	}{
		{
			name: "Allow with action and resource",
			stmt: PolicyStatement{
				Effect:   "Allow",
				Action:   NewDynaString([]string{"s3:GetObject"}),
				Resource: NewDynaString([]string{"*"}),
			},
		},
		{
			name: "Trust policy statement without resource",
			stmt: PolicyStatement{
				Effect:    "Allow",
				Action:    NewDynaString([]string{"sts:AssumeRole"}),
				Principal: &Principal{AWS: NewDynaString([]string{"arn:aws:iam::111111111111:root"})},
			},
		},
		{
			name: "Unknown effect",
			stmt: PolicyStatement{
				Effect:   "allow",
				Action:   NewDynaString([]string{"s3:GetObject"}),
				Resource: NewDynaString([]string{"*"}),
			},
			expectError: true,
		},
		{
			name: "Missing action",
			stmt: PolicyStatement{
				Effect:   "Allow",
				Resource: NewDynaString([]string{"*"}),
			},
			expectError: true,
		},
		{
			name: "Missing resource and principal",
			stmt: PolicyStatement{
				Effect: "Deny",
				Action: NewDynaString([]string{"s3:GetObject"}),
			},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.stmt.Validate()
			if (err != nil) != tc.expectError {
				t.Errorf("Expected error: %v, got: %v", tc.expectError, err)
			}
		})
	}
}

func TestPolicyHashStable(t *testing.T) {
	doc := `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Action":"*","Resource":"*"}]}`
	a, err := NewPolicyFromJSON([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b, err := NewPolicyFromJSON([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a.Hash() != b.Hash() {
		t.Error("identical documents hash differently")
	}

	c, err := NewPolicyFromJSON([]byte(`{"Version":"2012-10-17","Statement":[{"Effect":"Deny","Action":"*","Resource":"*"}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a.Hash() == c.Hash() {
		t.Error("different documents hash identically")
	}
	if HashPolicies([]*Policy{a, c}) != HashPolicies([]*Policy{c, a}) {
		t.Error("policy-set hash depends on order")
	}
}
