package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/privmap/pkg/fault"
)

func TestParseForms(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  Query
	}{
		{
			name:  "preset with selector",
			input: "preset privesc user/alice",
			want:  &PresetQuery{Name: "privesc", Args: []string{"user/alice"}},
		},
		{
			name:  "preset with star selector",
			input: "preset privesc *",
			want:  &PresetQuery{Name: "privesc", Args: []string{"*"}},
		},
		{
			name:  "can with default resource",
			input: "can alice do s3:GetObject",
			want:  &CanQuery{Principal: "alice", Action: "s3:GetObject", Resource: "*"},
		},
		{
			name:  "can with resource",
			input: "can alice do s3:GetObject on arn:aws:s3:::bucket/*",
			want:  &CanQuery{Principal: "alice", Action: "s3:GetObject", Resource: "arn:aws:s3:::bucket/*"},
		},
		{
			name:  "who",
			input: "who can do iam:CreateUser",
			want:  &WhoQuery{Action: "iam:CreateUser", Resource: "*"},
		},
		{
			name:  "who with resource",
			input: "who can do sts:AssumeRole on arn:aws:iam::111111111111:role/admin",
			want:  &WhoQuery{Action: "sts:AssumeRole", Resource: "arn:aws:iam::111111111111:role/admin"},
		},
		{
			name:  "reach",
			input: "reach alice role/admin",
			want:  &ReachQuery{Source: "alice", Target: "role/admin"},
		},
		{
			name:  "quoted selector keeps spaces",
			input: `can "role/My Role" do s3:GetObject`,
			want:  &CanQuery{Principal: "role/My Role", Action: "s3:GetObject", Resource: "*"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := Parse(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, q)
		})
	}
}

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		position int
	}{
		{"empty", "", 0},
		{"unknown form", "list users", 0},
		{"preset missing name", "preset", 6},
		{"can missing do", "can alice s3:GetObject", 10},
		{"can missing action", "can alice do", 12},
		{"keyword as term", "can do do s3:GetObject", 4},
		{"trailing input", "reach alice bob extra", 16},
		{"unterminated quote", `can "alice do s3:GetObject`, 4},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.input)
			require.Error(t, err)
			var syntaxErr *fault.SyntaxError
			require.ErrorAs(t, err, &syntaxErr)
			assert.Equal(t, tc.position, syntaxErr.Position, "error: %v", err)
		})
	}
}
