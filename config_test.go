package troupe

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestLoadConfigDefaults checks an empty path yields the defaults.
func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

// TestLoadConfigFile layers file values over the defaults via dotted
// paths.
func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "troupe.yaml")
	content := `
scheduler:
  workers: 8
  policy: sharing
remote:
  proxy-grace-period: 5s
metrics:
  collect: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Workers)
	require.Equal(t, PolicySharing, cfg.Policy)
	require.Equal(t, 5*time.Second, cfg.ProxyGracePeriod)
	require.True(t, cfg.CollectMetrics)

	// Unset keys keep their defaults.
	require.Equal(t, DefaultConfig().MaxThroughput, cfg.MaxThroughput)
}

// TestLoadConfigRejectsBadPolicy checks validation fires on unknown
// policies.
func TestLoadConfigRejectsBadPolicy(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "troupe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"scheduler:\n  policy: quantum\n",
	), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
}
