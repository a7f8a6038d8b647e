package session

import (
	"fmt"
	"regexp"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName rejects names that could not safely become a directory
// under the sessions root.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("session name %q: want 1-64 chars of lowercase letters, digits, '-' or '_'", name)
	}
	return nil
}
