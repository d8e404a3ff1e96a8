package paxos

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	config := DefaultConfig()
	config.NodeID = 1
	config.BindAddr = "127.0.0.1:9001"
	config.Peers = map[NodeID]string{2: "127.0.0.1:9002", 3: "127.0.0.1:9003"}
	return config
}

func TestValidateConfig_Valid(t *testing.T) {
	assert.NoError(t, validateConfig(validTestConfig()))
}

func TestValidateConfig_Errors(t *testing.T) {
	t.Run("missing bind address", func(t *testing.T) {
		config := validTestConfig()
		config.BindAddr = ""
		assert.ErrorIs(t, validateConfig(config), ErrInvalidConfig)
	})

	t.Run("missing peers", func(t *testing.T) {
		config := validTestConfig()
		config.Peers = nil
		assert.ErrorIs(t, validateConfig(config), ErrInvalidConfig)
	})

	t.Run("self in peers", func(t *testing.T) {
		config := validTestConfig()
		config.Peers[1] = "127.0.0.1:9001"
		assert.ErrorIs(t, validateConfig(config), ErrInvalidConfig)
	})

	t.Run("missing journal path", func(t *testing.T) {
		config := validTestConfig()
		config.JournalPath = ""
		assert.ErrorIs(t, validateConfig(config), ErrInvalidConfig)
	})

	t.Run("inverted timeout range", func(t *testing.T) {
		config := validTestConfig()
		config.LeaderTimeoutMin = 3 * time.Second
		config.LeaderTimeoutMax = 1 * time.Second
		assert.ErrorIs(t, validateConfig(config), ErrInvalidConfig)
	})

	t.Run("zero accept timeout", func(t *testing.T) {
		config := validTestConfig()
		config.AcceptTimeout = 0
		assert.ErrorIs(t, validateConfig(config), ErrInvalidConfig)
	})
}

func TestConfig_ClusterSizeIncludesSelf(t *testing.T) {
	assert.Equal(t, 3, validTestConfig().clusterSize())
}

func TestConfig_HeartbeatPeriod(t *testing.T) {
	config := validTestConfig()
	config.LeaderTimeoutMin = 2 * time.Second
	assert.Equal(t, 500*time.Millisecond, config.heartbeatPeriod())
}

func TestLoadConfig_ReadsYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
node_id: 2
bind_addr: 127.0.0.1:9002
peers:
  1: 127.0.0.1:9001
  3: 127.0.0.1:9003
journal_path: /var/lib/paxos/node2.db
leader_timeout_min: 800ms
leader_timeout_max: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, NodeID(2), config.NodeID)
	assert.Equal(t, "127.0.0.1:9002", config.BindAddr)
	assert.Equal(t, map[NodeID]string{1: "127.0.0.1:9001", 3: "127.0.0.1:9003"}, config.Peers)
	assert.Equal(t, "/var/lib/paxos/node2.db", config.JournalPath)
	assert.Equal(t, 800*time.Millisecond, config.LeaderTimeoutMin)
	assert.Equal(t, 2*time.Second, config.LeaderTimeoutMax)
	assert.Equal(t, 500*time.Millisecond, config.AcceptTimeout, "untouched fields keep defaults")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
