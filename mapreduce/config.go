package mapreduce

import (
	"github.com/spf13/viper"
)

// loadConfig mirrors corral's config.go loadConfig/setupDefaults
// pattern, scoped to this package's tunables, read from ./mapreducerc
// or $HOME/.mapreduce, with MAPREDUCE_-prefixed environment overrides.
// Only the worker count is read (by NewDriver); the verbose default is
// registered but nothing in this package reads it.
func loadConfig() *viper.Viper {
	v := viper.New()
	v.SetConfigName("mapreducerc")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.mapreduce")

	setupDefaults(v)

	_ = v.ReadInConfig()

	v.SetEnvPrefix("mapreduce")
	v.AutomaticEnv()
	return v
}

func setupDefaults(v *viper.Viper) {
	defaults := map[string]interface{}{
		"numWorkers": 4,
		"verbose":    false,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Config is the functional-options configuration surface around
// StartJob, mirroring corral's Option func(*config) pattern
// (WithSplitSize, WithNumReduce, ...).
type Config struct {
	numWorkers int
	client     Client
}

// Option configures a Driver.
type Option func(*Config)

// WithNumWorkers overrides the worker-count default read from viper.
func WithNumWorkers(n int) Option {
	return func(c *Config) { c.numWorkers = n }
}

// WithClient sets the map/reduce callables a Driver runs.
func WithClient(client Client) Option {
	return func(c *Config) { c.client = client }
}

// Driver bundles a Client with its configuration, mirroring corral's
// Driver in driver.go, but scoped to the local, single-process engine
// this repo implements (no Lambda backend).
type Driver struct {
	config Config
}

// NewDriver builds a Driver with viper-sourced defaults, overridden by
// opts.
func NewDriver(client Client, opts ...Option) *Driver {
	v := loadConfig()
	d := &Driver{config: Config{
		numWorkers: v.GetInt("numWorkers"),
		client:     client,
	}}
	for _, opt := range opts {
		opt(&d.config)
	}
	return d
}

// Run starts a job over input and blocks until it completes,
// returning the accumulated output pairs.
func (d *Driver) Run(input []InputPair) []OutputPair {
	handle := StartJob(d.config.client, input, d.config.numWorkers)
	handle.Wait()
	return handle.Output()
}
