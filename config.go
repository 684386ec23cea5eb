package hive_mr3

import (
	"errors"
	"strconv"
	"sync"

	"github.com/spf13/viper"
)

// ModeContainer and ModeLLAP are the supported execution modes.  Fragment
// accounting only applies to map-side attempts running in LLAP mode.
const (
	ModeContainer = "container"
	ModeLLAP      = "llap"
)

// Legacy key names written into the Config so that downstream consumers that
// still derive paths or partitions from MR-era settings keep working.
const (
	KeyTaskID           = "mapred.task.id"
	KeyTaskAttemptID    = "mapreduce.task.attempt.id"
	KeyTaskPartition    = "mapred.task.partition"
	KeyTezTaskAttemptID = "mapreduce.task.attempt.id.tez"
)

// Config is the derived per-attempt task configuration.  The typed fields are
// set once at load time; the string table carries the legacy keys and is
// guarded because the controller writes it while diagnostic readers may be
// inspecting it from another goroutine.
type Config struct {
	// ExecutionMode is ModeContainer or ModeLLAP.
	ExecutionMode string

	// FragmentAccounting enables per-fragment counter registration for
	// cache-consistency accounting (effective for map-side attempts in
	// LLAP mode only).
	FragmentAccounting bool

	// QueryID identifies the query/session this attempt belongs to.  Used to
	// key the query-scoped cache eviction hook.
	QueryID string

	mu       sync.RWMutex
	settings map[string]string
}

// NewConfig returns an in-memory Config with container-mode defaults.
func NewConfig() *Config {
	return &Config{
		ExecutionMode: ModeContainer,
		settings:      make(map[string]string),
	}
}

// LoadConfig builds a Config from viper: hard defaults, then an optional
// hive-mr3.yaml in the working directory, then environment overrides.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetDefault("execution.mode", ModeContainer)
	v.SetDefault("fragment.accounting", false)
	v.SetDefault("query.id", "")

	v.SetConfigName("hive-mr3")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("HIVE_MR3")
	v.AutomaticEnv() // enable overwrite envs

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		// No config file is fine; defaults and env vars apply.
	}

	mode := v.GetString("execution.mode")
	if mode != ModeContainer && mode != ModeLLAP {
		return nil, errors.New("execution.mode must be \"container\" or \"llap\"")
	}

	return &Config{
		ExecutionMode:      mode,
		FragmentAccounting: v.GetBool("fragment.accounting"),
		QueryID:            v.GetString("query.id"),
		settings:           make(map[string]string),
	}, nil
}

// Set stores a legacy key/value pair.
func (c *Config) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings[key] = value
}

// SetInt stores a legacy integer setting.
func (c *Config) SetInt(key string, value int) {
	c.Set(key, strconv.Itoa(value))
}

// Get returns the value stored under key, or the empty string.
func (c *Config) Get(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings[key]
}
