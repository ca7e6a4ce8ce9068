package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// minProductionSecretLength is the shortest AUTH_SECRET accepted in production.
const minProductionSecretLength = 32

// ErrMissingSecret is returned when AUTH_SECRET is empty.
var ErrMissingSecret = errors.New("AUTH_SECRET is required")

// RequireValues returns an error naming every key whose value is empty.
func RequireValues(values map[string]string) error {
	var missing []string
	for name, value := range values {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return nil
}

// ValidateAuthSecret ensures the token signing secret meets minimum requirements
func ValidateAuthSecret(secret string, production bool) error {
	if secret == "" {
		return ErrMissingSecret
	}
	if production && len(secret) < minProductionSecretLength {
		return fmt.Errorf("AUTH_SECRET must be at least %d characters in production", minProductionSecretLength)
	}
	return nil
}
