package paxos

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the replica configuration.
type Config struct {
	// NodeID is the unique identifier for this replica. It must be stable
	// across restarts and unique in the cluster.
	NodeID NodeID

	// BindAddr is the address this replica binds to
	BindAddr string

	// Peers maps every cluster member (self excluded) to its address
	Peers map[NodeID]string

	// JournalPath is the bbolt file backing the durable journal
	JournalPath string

	// LeaderTimeoutMin is the lower bound of the randomized follower timeout
	LeaderTimeoutMin time.Duration

	// LeaderTimeoutMax is the upper bound of the randomized follower timeout
	LeaderTimeoutMax time.Duration

	// AcceptTimeout is how long an undecided accept waits before resend
	AcceptTimeout time.Duration

	// Logger for debugging
	Logger Logger
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		JournalPath:      "paxos.db",
		LeaderTimeoutMin: 1 * time.Second,
		LeaderTimeoutMax: 3 * time.Second,
		AcceptTimeout:    500 * time.Millisecond,
		Logger:           &defaultLogger{},
	}
}

// yamlConfig is the on-disk shape; durations are strings in Go duration
// syntax ("800ms", "2s").
type yamlConfig struct {
	NodeID           uint8            `yaml:"node_id"`
	BindAddr         string           `yaml:"bind_addr"`
	Peers            map[uint8]string `yaml:"peers"`
	JournalPath      string           `yaml:"journal_path"`
	LeaderTimeoutMin string           `yaml:"leader_timeout_min"`
	LeaderTimeoutMax string           `yaml:"leader_timeout_max"`
	AcceptTimeout    string           `yaml:"accept_timeout"`
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config := DefaultConfig()
	config.NodeID = NodeID(raw.NodeID)
	config.BindAddr = raw.BindAddr
	if raw.JournalPath != "" {
		config.JournalPath = raw.JournalPath
	}
	if len(raw.Peers) > 0 {
		config.Peers = make(map[NodeID]string, len(raw.Peers))
		for id, addr := range raw.Peers {
			config.Peers[NodeID(id)] = addr
		}
	}

	durations := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{raw.LeaderTimeoutMin, "leader_timeout_min", &config.LeaderTimeoutMin},
		{raw.LeaderTimeoutMax, "leader_timeout_max", &config.LeaderTimeoutMax},
		{raw.AcceptTimeout, "accept_timeout", &config.AcceptTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	return config, nil
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	if config.BindAddr == "" {
		return fmt.Errorf("%w: BindAddr is required", ErrInvalidConfig)
	}
	if len(config.Peers) == 0 {
		return fmt.Errorf("%w: Peers list is required", ErrInvalidConfig)
	}
	if _, ok := config.Peers[config.NodeID]; ok {
		return fmt.Errorf("%w: Peers must not contain the node itself", ErrInvalidConfig)
	}
	if config.JournalPath == "" {
		return fmt.Errorf("%w: JournalPath is required", ErrInvalidConfig)
	}
	if config.LeaderTimeoutMin <= 0 || config.LeaderTimeoutMax <= config.LeaderTimeoutMin {
		return fmt.Errorf("%w: need 0 < LeaderTimeoutMin < LeaderTimeoutMax", ErrInvalidConfig)
	}
	if config.AcceptTimeout <= 0 {
		return fmt.Errorf("%w: AcceptTimeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// clusterSize counts this node plus its peers.
func (c *Config) clusterSize() int {
	return len(c.Peers) + 1
}

// heartbeatPeriod derives the leader heartbeat interval from the follower
// timeout floor: four beats fit in the shortest timeout, so a single dropped
// heartbeat never triggers a probe.
func (c *Config) heartbeatPeriod() time.Duration {
	return c.LeaderTimeoutMin / 4
}

// Logger interface for logging
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// defaultLogger is a no-op logger implementation
type defaultLogger struct{}

func (l *defaultLogger) Debugf(_ string, _ ...interface{}) {}
func (l *defaultLogger) Infof(_ string, _ ...interface{})  {}
func (l *defaultLogger) Warnf(_ string, _ ...interface{})  {}
func (l *defaultLogger) Errorf(_ string, _ ...interface{}) {}
