package troupe

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Scheduler policy names accepted by the config loader.
const (
	PolicyStealing = "stealing"
	PolicySharing  = "sharing"
)

// Config is the runtime's full configuration. The zero value is unusable;
// start from DefaultConfig.
type Config struct {
	// Workers is the scheduler pool size. Zero selects
	// max(4, hardware concurrency).
	Workers int

	// MaxThroughput caps messages per actor resume.
	MaxThroughput int

	// Policy selects "stealing" or "sharing".
	Policy string

	// ProxyGracePeriod is how long an idle peer connection survives with
	// no local proxy references before it is closed.
	ProxyGracePeriod time.Duration

	// CollectMetrics enables the mailbox residency histogram on spawned
	// actors.
	CollectMetrics bool
}

// DefaultConfig returns the runtime defaults.
func DefaultConfig() Config {
	return Config{
		Workers:          0,
		MaxThroughput:    300,
		Policy:           PolicyStealing,
		ProxyGracePeriod: 30 * time.Second,
		CollectMetrics:   false,
	}
}

// Validate rejects configurations the runtime cannot honor.
func (c Config) Validate() error {
	switch c.Policy {
	case PolicyStealing, PolicySharing:
	default:
		return fmt.Errorf("unknown scheduler policy %q", c.Policy)
	}
	if c.MaxThroughput < 0 {
		return fmt.Errorf("max throughput must be non-negative")
	}

	return nil
}

// LoadConfig reads a configuration file through viper, layering file values
// over the defaults. An empty path yields the defaults. Settings use dotted
// paths:
//
//	scheduler.workers, scheduler.max-throughput, scheduler.policy,
//	remote.proxy-grace-period, metrics.collect
func LoadConfig(path string) (Config, error) {
	def := DefaultConfig()

	v := viper.New()
	v.SetDefault("scheduler.workers", def.Workers)
	v.SetDefault("scheduler.max-throughput", def.MaxThroughput)
	v.SetDefault("scheduler.policy", def.Policy)
	v.SetDefault("remote.proxy-grace-period", def.ProxyGracePeriod)
	v.SetDefault("metrics.collect", def.CollectMetrics)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := Config{
		Workers:          v.GetInt("scheduler.workers"),
		MaxThroughput:    v.GetInt("scheduler.max-throughput"),
		Policy:           v.GetString("scheduler.policy"),
		ProxyGracePeriod: v.GetDuration("remote.proxy-grace-period"),
		CollectMetrics:   v.GetBool("metrics.collect"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
