package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "toolmesh.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Engine.MaxTurns)
	assert.Equal(t, 3, cfg.Engine.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.BaseDelay.Duration)
	assert.Equal(t, 200, cfg.Memory.Capacity)
	assert.Equal(t, "toolmesh.memory", cfg.Memory.Namespace)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
[engine]
max_turns = 10
base_delay = "1s"
instructions = "Be terse."

[memory]
capacity = 50
sqlite_path = "/tmp/mem.db"

[credentials]
provider = "anthropic"
active_profile = "work"

[logging]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Engine.MaxTurns)
	assert.Equal(t, time.Second, cfg.Engine.BaseDelay.Duration)
	assert.Equal(t, "Be terse.", cfg.Engine.Instructions)
	assert.Equal(t, 3, cfg.Engine.MaxRetries, "absent fields keep defaults")
	assert.Equal(t, 50, cfg.Memory.Capacity)
	assert.Equal(t, "/tmp/mem.db", cfg.Memory.SQLitePath)
	assert.Equal(t, "work", cfg.Credentials.ActiveProfile)
	assert.Equal(t, "json", cfg.Logging.Format)

	engineCfg := cfg.EngineConfig()
	assert.Equal(t, 10, engineCfg.MaxTurns)
	assert.Equal(t, time.Second, engineCfg.BaseDelay)
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("TOOLMESH_TEST_DB", "/var/lib/toolmesh/mem.db")

	path := writeConfig(t, `
[memory]
sqlite_path = "${TOOLMESH_TEST_DB}"
namespace = "${TOOLMESH_TEST_UNSET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/toolmesh/mem.db", cfg.Memory.SQLitePath)
	assert.Equal(t, "${TOOLMESH_TEST_UNSET}", cfg.Memory.Namespace, "unset references are left verbatim")
}

func TestLoadValidation(t *testing.T) {
	t.Run("zero max_turns rejected", func(t *testing.T) {
		path := writeConfig(t, "[engine]\nmax_turns = 0\n")

		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("negative capacity rejected", func(t *testing.T) {
		path := writeConfig(t, "[memory]\ncapacity = -1\n")

		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
		assert.Error(t, err)
	})

	t.Run("malformed toml", func(t *testing.T) {
		path := writeConfig(t, "[engine\nmax_turns = ")

		_, err := Load(path)
		assert.Error(t, err)
	})
}
