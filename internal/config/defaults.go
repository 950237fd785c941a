package config

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Stream.Provider == "" {
		c.Stream.Provider = "kraken"
	}
	if c.Stream.URL == "" {
		c.Stream.URL = "wss://ws.kraken.com/v2"
	}
	if c.Stream.HeartbeatIntervalSec <= 0 {
		c.Stream.HeartbeatIntervalSec = 15
	}
	if c.Stream.HeartbeatTimeoutSec <= 0 {
		c.Stream.HeartbeatTimeoutSec = 10
	}
	if c.Stream.BufferSize <= 0 {
		c.Stream.BufferSize = 512
	}
	if c.Stream.Retry.MaxAttempts <= 0 {
		c.Stream.Retry.MaxAttempts = 5
	}
	if c.Stream.Retry.BaseDelaySec <= 0 {
		c.Stream.Retry.BaseDelaySec = 1
	}
	if c.Stream.Retry.MaxDelaySec <= 0 {
		c.Stream.Retry.MaxDelaySec = 30
	}
	if c.Exchange.Name == "" {
		c.Exchange.Name = c.Stream.Provider
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/tickerd.db"
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8642"
	}
}
