package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/fscherf/lona/internal/config"
	"github.com/fscherf/lona/internal/routing"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)

	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestVersionCommand(t *testing.T) {
	out := execute(t, "version")
	assert.Contains(t, out, "lona ")
	assert.Contains(t, out, "platform:")
}

func TestVersionCommandYAML(t *testing.T) {
	out := execute(t, "version", "--output", "yaml")

	var info map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")
}

func TestRoutesCommand(t *testing.T) {
	out := execute(t, "routes")
	assert.Contains(t, out, "/clock")
	assert.Contains(t, out, "lona-demo/clock")
	assert.Contains(t, out, "non-interactive")
}

func TestRoutesCommandYAML(t *testing.T) {
	out := execute(t, "routes", "--output", "yaml")

	var records []routeRecord
	require.NoError(t, yaml.Unmarshal([]byte(out), &records))
	require.NotEmpty(t, records)

	byName := make(map[string]routeRecord, len(records))
	for _, record := range records {
		byName[record.Name] = record
	}
	assert.Equal(t, "/hello/<name>", byName["hello"].Pattern)
	assert.False(t, byName["state"].Interactive)
	assert.Equal(t, "State", byName["state"].Title)
}

func TestDoctorCommand(t *testing.T) {
	out := execute(t, "doctor")
	assert.Contains(t, out, "settings: ok")
	assert.Contains(t, out, "bootstrap: ok")
}

func TestDemoRegistryRoutesResolve(t *testing.T) {
	settings := config.Default()
	reg, err := demoRegistry(settings.RoutingTable)
	require.NoError(t, err)

	object, ok := reg.Object(settings.RoutingTable)
	require.True(t, ok)
	routes := object.([]*routing.Route)

	for _, route := range routes {
		_, err := reg.ResolveHandler(route.Handler)
		assert.NoError(t, err, route.Pattern)
	}
}

func TestLoadSettingsFlagOverride(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("port")
	require.NotNil(t, flag)

	require.NoError(t, flag.Value.Set("9001"))
	flag.Changed = true
	t.Cleanup(func() {
		_ = flag.Value.Set("0")
		flag.Changed = false
	})

	settings, err := loadSettings(serveCmd)
	require.NoError(t, err)
	assert.Equal(t, 9001, settings.Port)
}
