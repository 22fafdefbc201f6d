// Package config holds the YAML configuration of a segring daemon and turns
// it into the pieces the daemon wires together.
package config

import (
	"time"

	"github.com/gholt/segring"
)

type Config struct {
	Cache      CacheConfig      `yaml:"cache"`
	Node       NodeConfig       `yaml:"node"`
	Membership MembershipConfig `yaml:"membership"`
	State      StateConfig      `yaml:"state"`
	Rebalance  RebalanceConfig  `yaml:"rebalance"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// CacheConfig must be identical on every node of a cluster.
type CacheConfig struct {
	// Name is the scope persisted state is saved under.
	Name string `yaml:"name"`
	// Factory is default, replicated, sync, or topology-aware.
	Factory      string `yaml:"factory"`
	NumOwners    int    `yaml:"numOwners"`
	NumSegments  int    `yaml:"numSegments"`
	HashFunction string `yaml:"hashFunction"`
	// Partitioner is hash or crc16.
	Partitioner string `yaml:"partitioner"`
}

type NodeConfig struct {
	Name    string `yaml:"name"`
	Site    string `yaml:"site"`
	Rack    string `yaml:"rack"`
	Machine string `yaml:"machine"`
	// CapacityFactor defaults to 1; 0 makes the node a member that owns
	// nothing.
	CapacityFactor *float32 `yaml:"capacityFactor"`
	// AutoCapacity derives the capacity factor from host memory relative to
	// ReferenceMemory bytes, overriding CapacityFactor.
	AutoCapacity    bool   `yaml:"autoCapacity"`
	ReferenceMemory uint64 `yaml:"referenceMemory"`
}

type MembershipConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	Prefix      string        `yaml:"prefix"`
	LeaseTTL    time.Duration `yaml:"leaseTTL"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

type StateConfig struct {
	// Dir is the pebble directory; empty keeps state in memory only.
	Dir string `yaml:"dir"`
}

type RebalanceConfig struct {
	// Interval is the minimum time between rebalances.
	Interval    time.Duration `yaml:"interval"`
	Burst       int           `yaml:"burst"`
	AutoConfirm bool          `yaml:"autoConfirm"`
}

type MetricsConfig struct {
	// Listen is the address /metrics is served on; empty disables it.
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

const (
	defaultEtcdPort    = 2379
	defaultMetricsPort = 9100
)

func Default() *Config {
	cf := float32(1)
	return &Config{
		Cache: CacheConfig{
			Name:         "default",
			Factory:      segring.KindDefault.String(),
			NumOwners:    2,
			NumSegments:  256,
			HashFunction: segring.DefaultHash.Name(),
			Partitioner:  "hash",
		},
		Node: NodeConfig{
			CapacityFactor:  &cf,
			ReferenceMemory: 8 << 30,
		},
		Membership: MembershipConfig{
			Endpoints:   []string{"127.0.0.1:2379"},
			Prefix:      "/segring/members/",
			LeaseTTL:    10 * time.Second,
			DialTimeout: 5 * time.Second,
		},
		Rebalance: RebalanceConfig{
			Interval: 5 * time.Second,
			Burst:    1,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ApplyDefaults fills every unset field from Default.
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.Cache.Name == "" {
		c.Cache.Name = d.Cache.Name
	}
	if c.Cache.Factory == "" {
		c.Cache.Factory = d.Cache.Factory
	}
	if c.Cache.NumOwners == 0 {
		c.Cache.NumOwners = d.Cache.NumOwners
	}
	if c.Cache.NumSegments == 0 {
		c.Cache.NumSegments = d.Cache.NumSegments
	}
	if c.Cache.HashFunction == "" {
		c.Cache.HashFunction = d.Cache.HashFunction
	}
	if c.Cache.Partitioner == "" {
		c.Cache.Partitioner = d.Cache.Partitioner
	}
	if c.Node.CapacityFactor == nil {
		c.Node.CapacityFactor = d.Node.CapacityFactor
	}
	if c.Node.ReferenceMemory == 0 {
		c.Node.ReferenceMemory = d.Node.ReferenceMemory
	}
	if len(c.Membership.Endpoints) == 0 {
		c.Membership.Endpoints = d.Membership.Endpoints
	}
	if c.Membership.Prefix == "" {
		c.Membership.Prefix = d.Membership.Prefix
	}
	if c.Membership.LeaseTTL == 0 {
		c.Membership.LeaseTTL = d.Membership.LeaseTTL
	}
	if c.Membership.DialTimeout == 0 {
		c.Membership.DialTimeout = d.Membership.DialTimeout
	}
	if c.Rebalance.Interval == 0 {
		c.Rebalance.Interval = d.Rebalance.Interval
	}
	if c.Rebalance.Burst == 0 {
		c.Rebalance.Burst = d.Rebalance.Burst
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// Address is this node's member address.
func (c *Config) Address() segring.NodeAddress {
	return segring.NodeAddress{Name: c.Node.Name, Site: c.Node.Site, Rack: c.Node.Rack, Machine: c.Node.Machine}
}
