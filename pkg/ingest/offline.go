package ingest

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/praetorian-inc/privmap/pkg/fault"
	"github.com/praetorian-inc/privmap/pkg/types"
)

// LoadAuthorizationFile reads a saved iam:GetAccountAuthorizationDetails
// dump, accepting both the bare object and the single-element array some
// export tools write.
func LoadAuthorizationFile(path string) (*types.AccountAuthorization, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &fault.StorageError{Path: path, Op: "read", Err: err}
	}

	var authArray []types.AccountAuthorization
	if err := json.Unmarshal(data, &authArray); err == nil && len(authArray) > 0 {
		return &authArray[0], nil
	}

	var auth types.AccountAuthorization
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, &fault.ParseError{
			Document: path,
			Err:      fmt.Errorf("not an authorization-details dump (tried array and object forms): %w", err),
		}
	}
	return &auth, nil
}
