package main

import (
	"bytes"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type config struct {
	Harmony struct {
		Host           string        `mapstructure:"host"`
		Port           int           `mapstructure:"port"`
		ConnectTimeout time.Duration `mapstructure:"connecttimeout"`
		SendTimeout    time.Duration `mapstructure:"sendtimeout"`
		Heartbeat      time.Duration `mapstructure:"heartbeat"`
		ReconnectDelay time.Duration `mapstructure:"reconnectdelay"`
	} `mapstructure:"harmony"`
	Metrics struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"metrics"`
}

func NewDefaultConfig() (c config) {
	c = config{}
	c.Harmony.Host = "localhost"
	c.Harmony.Port = 8088
	c.Harmony.ConnectTimeout = 10 * time.Second
	c.Harmony.SendTimeout = 30 * time.Second
	c.Harmony.Heartbeat = 50 * time.Second
	c.Harmony.ReconnectDelay = 5 * time.Second
	c.Metrics.Port = "9124"
	return
}

// loadConfig layers defaults, the yaml file at path (if any) and
// HARMONY_* environment variables.
func loadConfig(v *viper.Viper, path string) (config, error) {
	d := NewDefaultConfig()
	v.SetDefault("harmony.host", d.Harmony.Host)
	v.SetDefault("harmony.port", d.Harmony.Port)
	v.SetDefault("harmony.connecttimeout", d.Harmony.ConnectTimeout)
	v.SetDefault("harmony.sendtimeout", d.Harmony.SendTimeout)
	v.SetDefault("harmony.heartbeat", d.Harmony.Heartbeat)
	v.SetDefault("harmony.reconnectdelay", d.Harmony.ReconnectDelay)
	v.SetDefault("metrics.port", d.Metrics.Port)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.SetEnvPrefix("harmony")
	v.AutomaticEnv()
	v.SetConfigType("yaml")

	cfg, err := os.ReadFile(path)
	if err != nil {
		sugar.Info("No configuration file found. Using Default config")
	} else if err := v.ReadConfig(bytes.NewBuffer(cfg)); err != nil {
		return config{}, err
	}

	c := config{}
	if err := v.Unmarshal(&c); err != nil {
		return config{}, err
	}
	sugar.Infof("Configuration from %v", v.AllSettings())
	return c, nil
}
