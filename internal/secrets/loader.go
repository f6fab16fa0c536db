package secrets

import "github.com/Strob0t/AlarmRelay/internal/config"

// Static returns a Loader that always yields auth.
func Static(auth config.Auth) Loader {
	return func() (config.Auth, error) { return auth, nil }
}

// ConfigLoader returns a Loader that re-reads the full configuration
// hierarchy and keeps its auth section.
func ConfigLoader(flags config.CLIFlags) Loader {
	return func() (config.Auth, error) {
		cfg, _, err := config.LoadWithCLI(flags)
		if err != nil {
			return config.Auth{}, err
		}
		return cfg.Auth, nil
	}
}
