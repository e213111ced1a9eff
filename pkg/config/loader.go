package config

import (
	"errors"

	"github.com/kkyr/fig"
	"github.com/savehub/savehub/pkg/os"
)

const EnvPrefix = "SAVEHUB"

// LoadConfig loads the savehub.yaml configuration file into the given struct.
// The path param specifies a custom directory for the configuration file.
// Environment variables with the SAVEHUB_ prefix override file values.
// A missing file is not an error, the caller's defaults are kept.
func LoadConfig(config any, path string) error {
	var dirs []string
	if path != "" {
		dirs = []string{path}
	} else {
		dirs = []string{".", "configs"}
		if home, err := os.GetUserHome(); err == nil {
			dirs = append(dirs, home+"/.savehub")
		}
	}
	err := fig.Load(config, fig.File("savehub.yaml"), fig.Dirs(dirs...), fig.UseEnv(EnvPrefix))
	if err != nil && !errors.Is(err, fig.ErrFileNotFound) {
		return err
	}
	return nil
}
