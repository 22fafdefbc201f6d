package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/gholt/segring"
	"github.com/gholt/segring/partition"
	"go.uber.org/zap/zapcore"
)

func invalid(format string, args ...interface{}) error {
	return &segring.ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// Validate checks the config after ApplyDefaults. Every error it returns
// matches segring.ErrConfiguration.
func (c *Config) Validate() error {
	if _, err := c.Factory(); err != nil {
		return err
	}
	if c.Cache.NumOwners < 1 {
		return invalid("cache.numOwners must be at least 1; it was %d", c.Cache.NumOwners)
	}
	if c.Cache.NumSegments < 1 {
		return invalid("cache.numSegments must be at least 1; it was %d", c.Cache.NumSegments)
	}
	if _, err := c.Partitioner(); err != nil {
		return err
	}
	if c.Node.Name == "" {
		return invalid("node.name is required")
	}
	if strings.ContainsAny(c.Node.Name, "@/") {
		return invalid("node.name %q must not contain @ or /", c.Node.Name)
	}
	if cf := c.Node.CapacityFactor; cf != nil {
		f := float64(*cf)
		if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return invalid("node.capacityFactor %v must be a finite number of at least 0", *cf)
		}
	}
	if c.Node.AutoCapacity && c.Node.ReferenceMemory == 0 {
		return invalid("node.referenceMemory must be set with node.autoCapacity")
	}
	if _, err := c.Endpoints(); err != nil {
		return err
	}
	if !strings.HasSuffix(c.Membership.Prefix, "/") {
		return invalid("membership.prefix %q must end with /", c.Membership.Prefix)
	}
	if c.Membership.LeaseTTL.Seconds() < 1 {
		return invalid("membership.leaseTTL %s must be at least 1s", c.Membership.LeaseTTL)
	}
	if c.Rebalance.Interval < 0 || c.Rebalance.Burst < 1 {
		return invalid("rebalance.interval %s and rebalance.burst %d must be positive", c.Rebalance.Interval, c.Rebalance.Burst)
	}
	if c.Metrics.Listen != "" {
		if _, err := CanonicalHostPort(c.Metrics.Listen, defaultMetricsPort); err != nil {
			return invalid("metrics.listen %q: %s", c.Metrics.Listen, err)
		}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level: %s", err)
	}
	return nil
}

// Factory returns the configured hash factory.
func (c *Config) Factory() (segring.Factory, error) {
	kind, err := segring.ParseKind(c.Cache.Factory)
	if err != nil {
		return nil, err
	}
	hash, err := segring.HashByName(c.Cache.HashFunction)
	if err != nil {
		return nil, err
	}
	return segring.NewFactory(kind, hash)
}

// Partitioner returns the configured key partitioner.
func (c *Config) Partitioner() (partition.KeyPartitioner, error) {
	hash, err := segring.HashByName(c.Cache.HashFunction)
	if err != nil {
		return nil, err
	}
	return partition.New(c.Cache.Partitioner, hash, c.Cache.NumSegments)
}

// Endpoints returns the etcd endpoints in canonical host:port form.
func (c *Config) Endpoints() ([]string, error) {
	if len(c.Membership.Endpoints) == 0 {
		return nil, invalid("membership.endpoints is empty")
	}
	rv := make([]string, len(c.Membership.Endpoints))
	for i, e := range c.Membership.Endpoints {
		hostPort, err := CanonicalHostPort(e, defaultEtcdPort)
		if err != nil {
			return nil, invalid("membership.endpoints %q: %s", e, err)
		}
		rv[i] = hostPort
	}
	return rv, nil
}
