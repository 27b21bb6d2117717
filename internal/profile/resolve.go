package profile

import (
	"fmt"
	"regexp"

	"github.com/matheus3301/textile/internal/config"
)

// DefaultName is used when neither the flag nor the config names a profile.
const DefaultName = "main"

// Resolve picks the active profile: the flag, then cfg.DefaultProfile, then
// "main".
func Resolve(flagOverride string, cfg *config.Config) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg != nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultName
}

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name is usable as a directory name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}
