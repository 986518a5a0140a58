package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tideflow-io/tideflow/pkg/identity"
)

type membershipFile struct {
	Roles       map[string][]string `json:"roles"`
	Permissions map[string][]string `json:"permissions"`
}

// NewMembership loads role and permission grants from a JSON file. An empty
// path yields an empty membership, which makes every role/permission
// condition evaluate false.
func NewMembership(path string) identity.Membership {
	if path == "" {
		return identity.NewStatic(nil, nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(fmt.Errorf("failed to read membership file: %w", err))
	}

	var decoded membershipFile
	if err := json.Unmarshal(data, &decoded); err != nil {
		panic(fmt.Errorf("failed to parse membership file: %w", err))
	}

	return identity.NewStatic(decoded.Roles, decoded.Permissions)
}
