package config

import (
	"testing"

	"gopkg.in/yaml.v3"
)

// FuzzSettingsYAML feeds arbitrary YAML into the settings unmarshal and
// validation path; neither may panic, whatever the input.
func FuzzSettingsYAML(f *testing.F) {
	f.Add("host: localhost\nport: 8080\n")
	f.Add("port: -1\nmax_workers: 0\n")
	f.Add("middlewares:\n  - a\n  - b\n")
	f.Add("template_extra_context:\n  nested:\n    deeply: true\n")
	f.Add("shutdown_timeout: 5s\n")
	f.Add(":")
	f.Add("{}")

	f.Fuzz(func(t *testing.T, input string) {
		var settings Settings
		if err := yaml.Unmarshal([]byte(input), &settings); err != nil {
			return
		}
		_ = settings.Validate()
	})
}
