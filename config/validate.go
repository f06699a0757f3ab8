package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/Aeglx/WeDrawOS-sub006/driver"
	"github.com/Aeglx/WeDrawOS-sub006/validator"
)

var (
	logRules = validator.Rules{
		"Level":  {validator.In("silent", "error", "warn", "info", "debug")},
		"Format": {validator.In("text", "json")},
	}
	retryRules = validator.Rules{
		"MaxRetries": {validator.Range(1, 100)},
		"BaseDelay":  {validator.Min(0)},
		"MaxDelay":   {validator.Min(0)},
	}
	txRules = validator.Rules{
		"Timeout": {validator.Min(float64(time.Millisecond)).Msg("must be at least 1ms")},
	}
	queryRules = validator.Rules{
		"SlowThreshold":    {validator.Min(0)},
		"CircuitThreshold": {validator.Min(0)},
		"CircuitReset":     {validator.Min(0)},
	}
	eventsRules = validator.Rules{
		"BufferSize": {validator.Range(1, 1<<20)},
	}
	metricsRules = validator.Rules{
		"Namespace": {validator.Regexp(`^[a-zA-Z_][a-zA-Z0-9_]*$`).Optional()},
	}
	poolRules = validator.Rules{
		"Min":            {validator.Min(0)},
		"Max":            {validator.Range(1, 10000)},
		"AcquireTimeout": {validator.Min(float64(time.Millisecond)).Msg("must be at least 1ms")},
		"IdleTimeout":    {validator.Min(0)},
	}
	poolIDPattern = validator.Regexp(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`).Msg("pool IDs may only contain letters, digits, '_', '.' and '-'")
)

// Validate reports every invalid setting at once as validator.ValidationErrors.
func (c *Config) Validate() error {
	errs := make(validator.ValidationErrors)
	errs.Merge("log", logRules.Validate(c.Log))
	errs.Merge("retry", retryRules.Validate(c.Retry))
	errs.Merge("transaction", txRules.Validate(c.Transaction))
	errs.Merge("query", queryRules.Validate(c.Query))
	errs.Merge("events", eventsRules.Validate(c.Events))
	errs.Merge("metrics", metricsRules.Validate(c.Metrics))

	if c.Retry.MaxDelay > 0 && c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs.Add("retry.MaxDelay", fmt.Errorf("must not be below base delay %s", c.Retry.BaseDelay))
	}
	if c.Transaction.Isolation != "" {
		if _, err := driver.ParseIsolation(c.Transaction.Isolation); err != nil {
			errs.Add("transaction.Isolation", err)
		}
	}
	if c.Events.RedisAddr != "" && c.Events.RedisStream == "" {
		errs.Add("events.RedisStream", errors.New("is required with a Redis address"))
	}

	if len(c.Pools) == 0 {
		errs.Add("pools", ErrNoPools)
	}
	if id := c.Transaction.DefaultPool; id != "" {
		if _, ok := c.Pools[id]; !ok {
			errs.Add("transaction.DefaultPool", fmt.Errorf("unknown pool %q", id))
		}
	}

	known := driver.Drivers()
	for _, id := range c.PoolIDs() {
		p := c.Pools[id]
		prefix := "pools." + id
		errs.Add(prefix, poolIDPattern.Validate(id))
		errs.Merge(prefix, poolRules.Validate(p.Config))
		if p.Min > p.Max {
			errs.Add(prefix+".Min", fmt.Errorf("exceeds max %d", p.Max))
		}
		switch {
		case p.Conn.Driver == "":
			errs.Add(prefix+".Driver", errors.New("is required"))
		case !slices.Contains(known, strings.ToLower(p.Conn.Driver)):
			errs.Add(prefix+".Driver", fmt.Errorf("unknown driver %q (registered: %s)", p.Conn.Driver, strings.Join(known, ", ")))
		}
		if p.Conn.DSN == "" && p.Conn.Database == "" {
			errs.Add(prefix+".Database", errors.New("is required without a dsn"))
		}
	}
	return errs.Err()
}

// PoolIDs returns the configured pool IDs in sorted order.
func (c *Config) PoolIDs() []string {
	ids := make([]string, 0, len(c.Pools))
	for id := range c.Pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
