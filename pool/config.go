package pool

import (
	"fmt"
	"time"

	"github.com/Aeglx/WeDrawOS-sub006/driver"
)

// Config sizes and tunes one pool.
type Config struct {
	// Min connections are opened at start and kept through idle reaping.
	Min int `yaml:"min"`
	// Max bounds the connections checked out at once.
	Max int `yaml:"max"`
	// IdleTimeout closes idle connections above Min after this long. Zero disables reaping.
	IdleTimeout time.Duration `yaml:"idle_timeout" split_words:"true"`
	// AcquireTimeout bounds a single wait for a free slot.
	AcquireTimeout time.Duration `yaml:"acquire_timeout" split_words:"true"`
	// HealthCheckInterval pings idle connections periodically. Zero disables it.
	HealthCheckInterval time.Duration `yaml:"health_check_interval" split_words:"true"`

	// Conn is used to open a connector through the driver registry.
	Conn driver.ConnConfig `yaml:",inline" ignored:"true"`
	// Connector, when set, is used instead of Conn and survives RefreshPool.
	// The pool does not close a connector it was given.
	Connector driver.Connector `yaml:"-" ignored:"true"`
}

// DefaultConfig returns a pool of at most 10 connections with no pre-warmed minimum.
func DefaultConfig() Config {
	return Config{
		Max:                 10,
		IdleTimeout:         10 * time.Minute,
		AcquireTimeout:      5 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

func (c Config) validate() (Config, error) {
	if c.Max <= 0 {
		c.Max = 10
	}
	if c.Min < 0 {
		return c, fmt.Errorf("min must not be negative, got %d", c.Min)
	}
	if c.Min > c.Max {
		return c, fmt.Errorf("min %d exceeds max %d", c.Min, c.Max)
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	if c.Connector == nil && c.Conn.Driver == "" {
		return c, fmt.Errorf("no driver or connector configured")
	}
	return c, nil
}
