package cmd

import (
	"os"
	"path/filepath"

	"emperror.dev/errors"

	"github.com/pterodactyl/streamfs/config"
)

// configurationLocations lists where a configuration file is looked for when
// no --config flag is passed, in order of preference.
func configurationLocations() []string {
	check := []string{config.DefaultLocation}
	if dir, err := os.UserConfigDir(); err == nil {
		check = append(check, filepath.Join(dir, "streamfs", "config.yml"))
	}
	return append(check, "config.yml")
}

// findConfiguration returns the first configuration file that exists, or an
// empty string when there is none and the defaults apply. Only errors other
// than the file not existing are returned.
func findConfiguration() (string, error) {
	for _, p := range configurationLocations() {
		s, err := os.Stat(p)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return "", errors.WithStack(err)
			}
			continue
		}
		if !s.IsDir() {
			return p, nil
		}
	}
	return "", nil
}
