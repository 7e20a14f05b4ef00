package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"portcall/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default("NLRTM")
	require.NoError(t, cfg.Validate())
	require.Equal(t, "NLRTM", cfg.Port.Code)
	require.Equal(t, 5*time.Second, cfg.Mirror.Interval)
	require.Equal(t, "/v0", cfg.Server.BasePath)

	moor, ok := cfg.Category("moor")
	require.True(t, ok)
	require.Equal(t, time.Hour, moor.DefaultDuration)
	pilot, ok := cfg.Category("PILOT")
	require.True(t, ok)
	require.Equal(t, 90*time.Minute, pilot.DefaultDuration)
	require.Equal(t, time.UTC, cfg.Location())
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
port:
  code: PTLEI
  timezone: Europe/Lisbon
task_categories:
  - code: tow
    default_duration: 45m
revision:
  reason_min_length: 10
`))
	require.NoError(t, err)
	require.Equal(t, "Europe/Lisbon", cfg.Location().String())
	require.Len(t, cfg.TaskCategories, 1)
	require.Equal(t, 10, cfg.Revision.ReasonMinLength)
	require.Equal(t, 100, cfg.Mirror.BatchSize)
	require.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
}

func TestFromYAMLRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"duplicate category": "port: {code: X}\ntask_categories: [{code: MOOR}, {code: moor}]\n",
		"bad category code":  "port: {code: X}\ntask_categories: [{code: 'a b'}]\n",
		"bad timezone":       "port: {code: X, timezone: Mars/Olympus}\n",
		"log format":         "port: {code: X}\nlog: {format: xml}\n",
		"reason length":      "port: {code: X}\nrevision: {reason_min_length: 0}\n",
		"base path":          "port: {code: X}\nserver: {base_path: v1}\n",
		"not yaml":           "port: [\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(raw))
			require.Error(t, err)
		})
	}
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	_, err := config.Load(dir)
	require.ErrorContains(t, err, "not found")

	cfg, err := config.LoadOptional(dir)
	require.NoError(t, err)
	require.Equal(t, "PTLEI", cfg.Port.Code)

	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(config.GenerateDefault("ESALG")), 0o644))
	cfg, err = config.Load(dir)
	require.NoError(t, err)
	require.Equal(t, "ESALG", cfg.Port.Code)
	require.Len(t, cfg.TaskCategories, 4)
}
