package ult

import (
	"time"

	"github.com/spf13/viper"
)

// loadConfig mirrors the teacher package's viper bootstrapping: a
// dedicated config name/path pair plus an env prefix, so quantum length
// can be tuned without touching call sites. A verbose default is also
// registered, but nothing in this package reads it.
func loadConfig() *viper.Viper {
	v := viper.New()
	v.SetConfigName("ultrc")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.ult")

	v.SetDefault("quantumUsecs", 100000)
	v.SetDefault("verbose", false)

	v.ReadInConfig() // absence of a config file is not an error

	v.SetEnvPrefix("ult")
	v.AutomaticEnv()
	return v
}

func quantumFromUsecs(usecs int) time.Duration {
	return time.Duration(usecs) * time.Microsecond
}
