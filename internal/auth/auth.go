package auth

import (
	"context"
	"fmt"
	"strings"
)

// Identity is the resolved caller. Role is matched against the permission table;
// unknown roles are allowed here and narrowed later.
type Identity struct {
	CallerID string
	Role     string
}

func (i Identity) Valid() bool {
	return strings.TrimSpace(i.CallerID) != ""
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

// NewStaticAPIKeyValidator parses "key:callerId:role" entries separated by commas.
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:caller:role", entry)
		}
		key := strings.TrimSpace(parts[0])
		caller := strings.TrimSpace(parts[1])
		role := strings.ToLower(strings.TrimSpace(parts[2]))
		if key == "" || caller == "" {
			return nil, fmt.Errorf("invalid static key entry %q: empty key/caller", entry)
		}
		if role == "" {
			return nil, fmt.Errorf("invalid static key entry %q: role is required", entry)
		}
		if _, exists := validator.keys[key]; exists {
			return nil, fmt.Errorf("invalid static key entry %q: duplicate key", entry)
		}
		validator.keys[key] = Identity{CallerID: caller, Role: role}
	}

	return validator, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}
