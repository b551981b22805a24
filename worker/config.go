package worker

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"offworker/cache"
	"offworker/strategy"
)

// Config represents a worker config
type Config struct {
	ListenAddr    string     `yaml:"listenAddr"`
	TLSListenAddr string     `yaml:"tlsListenAddr"`
	TLSOnly       bool       `yaml:"tlsOnly"`
	TLS           *TLSConfig `yaml:"tls"`
	Verbose       bool       `yaml:"verbose"`

	// Origin is the upstream every intercepted request is fulfilled against
	Origin string `yaml:"origin"`
	// DataDir holds the bucket store and persisted sync queue
	// An empty DataDir keeps both memory only
	DataDir string `yaml:"dataDir"`
	// Version is baked into every bucket name, bump it to invalidate all
	// previous buckets on the next activation
	Version string `yaml:"version"`

	OfflinePage    string   `yaml:"offlinePage"`
	NetworkTimeout string   `yaml:"networkTimeout"`
	MaintainEvery  string   `yaml:"maintainEvery"`
	RetryCeiling   int      `yaml:"retryCeiling"`
	Precache       []string `yaml:"precache"`

	// Classes overrides the per-class bucket policies
	Classes map[string]ClassPolicy `yaml:"classes"`
	// Strategies overrides the initial class to strategy mapping
	Strategies map[string]string `yaml:"strategies"`

	// compiled
	networkTimeout time.Duration
	classConfigs   map[cache.ResourceClass]cache.ClassConfig
}

// TLSConfig represents a TLS configuration
type TLSConfig struct {
	KeyFile  string `yaml:"keyFile"`
	CertFile string `yaml:"certFile"`
}

// ClassPolicy represents a configured bucket policy override
type ClassPolicy struct {
	MaxEntries int    `yaml:"maxEntries"`
	MaxAge     string `yaml:"maxAge"`
}

// LoadConfig reads and compiles a worker config file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}
	if err := c.compile(); err != nil {
		return nil, err
	}

	return &c, nil
}

// compile validates the config and fills in defaults
// Safe to call more than once
func (c *Config) compile() error {
	if c.Origin == "" {
		return errors.New("no origin provided")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.Version == "" {
		c.Version = "v1"
	}
	if c.OfflinePage == "" {
		c.OfflinePage = "/offline.html"
	}
	if c.MaintainEvery == "" {
		c.MaintainEvery = "@every 5m"
	}
	if c.RetryCeiling == 0 {
		c.RetryCeiling = 3
	}
	if c.TLS == nil {
		c.TLS = &TLSConfig{}
	}
	if c.TLSOnly && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return errors.New("tlsOnly requires tls certFile and keyFile")
	}
	if c.TLSListenAddr == "" {
		c.TLSListenAddr = ":8443"
	}

	c.networkTimeout = 30 * time.Second
	if c.NetworkTimeout != "" {
		d, err := time.ParseDuration(c.NetworkTimeout)
		if err != nil {
			return errors.Wrap(err, "networkTimeout")
		}
		c.networkTimeout = d
	}

	c.classConfigs = cache.DefaultClassConfigs()
	for classStr, policy := range c.Classes {
		class := cache.ResourceClass(classStr)
		cfg, ok := c.classConfigs[class]
		if !ok {
			return errors.Errorf("classes: unknown resource class %q", classStr)
		}
		if policy.MaxEntries > 0 {
			cfg.MaxEntries = policy.MaxEntries
		}
		if policy.MaxAge != "" {
			d, err := time.ParseDuration(policy.MaxAge)
			if err != nil {
				return errors.Wrapf(err, "classes.%s.maxAge", classStr)
			}
			cfg.MaxAge = d
		}
		c.classConfigs[class] = cfg
	}

	for classStr, nameStr := range c.Strategies {
		if _, ok := c.classConfigs[cache.ResourceClass(classStr)]; !ok {
			return errors.Errorf("strategies: unknown resource class %q", classStr)
		}
		if _, err := strategy.ParseName(nameStr); err != nil {
			return errors.Wrap(err, "strategies")
		}
	}

	return nil
}

// initialStrategies builds the startup class to strategy mapping
func (c *Config) initialStrategies() map[cache.ResourceClass]strategy.Name {
	strategies := strategy.DefaultStrategies()
	for classStr, nameStr := range c.Strategies {
		name, err := strategy.ParseName(nameStr)
		if err != nil {
			continue
		}
		strategies[cache.ResourceClass(classStr)] = name
	}

	return strategies
}
