package broker

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes the venue executors available to the router.
type Config struct {
	Default   string                     `yaml:"default"`
	Executors map[string]*ExecutorConfig `yaml:"executors"`
}

// ExecutorConfig describes how to construct one venue executor instance.
// Credential fields accept ${ENV_VAR} references expanded at load time.
type ExecutorConfig struct {
	Type         string `yaml:"type"`
	PrivateKey   string `yaml:"private_key"`
	MainAddress  string `yaml:"main_address"`
	VaultAddress string `yaml:"vault_address"`
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	Testnet      bool   `yaml:"testnet"`

	TimeoutRaw string        `yaml:"timeout"`
	Timeout    time.Duration `yaml:"-"`
}

// ExecutorBuilder constructs an Executor from configuration.
type ExecutorBuilder func(name string, cfg *ExecutorConfig) (Executor, error)

var (
	executorRegistry   = make(map[string]ExecutorBuilder)
	executorRegistryMu sync.RWMutex
)

// RegisterExecutor associates a builder with an executor type name.
func RegisterExecutor(typeName string, builder ExecutorBuilder) {
	executorRegistryMu.Lock()
	defer executorRegistryMu.Unlock()
	executorRegistry[strings.ToLower(strings.TrimSpace(typeName))] = builder
}

func lookupExecutorBuilder(typeName string) (ExecutorBuilder, bool) {
	executorRegistryMu.RLock()
	defer executorRegistryMu.RUnlock()
	builder, ok := executorRegistry[strings.ToLower(strings.TrimSpace(typeName))]
	return builder, ok
}

// NewExecutor constructs a single executor without a full config file.
// Used by tests and by live credential resolution, which builds a signer
// per session rather than per process.
func NewExecutor(typeName string, cfg *ExecutorConfig) (Executor, error) {
	if cfg == nil {
		cfg = &ExecutorConfig{}
	}
	c := *cfg
	c.Type = typeName
	if err := c.validate("inline"); err != nil {
		return nil, err
	}
	builder, ok := lookupExecutorBuilder(c.Type)
	if !ok {
		return nil, fmt.Errorf("broker: unsupported executor type %q", c.Type)
	}
	return builder("inline", &c)
}

// LoadConfig reads executor configuration from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open broker config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader parses a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read broker config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal broker config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() error {
	if c.Executors == nil {
		c.Executors = make(map[string]*ExecutorConfig)
	}
	for name, ec := range c.Executors {
		if ec == nil {
			ec = &ExecutorConfig{}
			c.Executors[name] = ec
		}
		ec.expandEnv()
		if err := ec.parseDurations(name); err != nil {
			return err
		}
	}
	return nil
}

func (e *ExecutorConfig) expandEnv() {
	e.Type = strings.TrimSpace(os.ExpandEnv(e.Type))
	e.PrivateKey = strings.TrimSpace(os.ExpandEnv(e.PrivateKey))
	e.MainAddress = strings.TrimSpace(os.ExpandEnv(e.MainAddress))
	e.VaultAddress = strings.TrimSpace(os.ExpandEnv(e.VaultAddress))
	e.APIKey = strings.TrimSpace(os.ExpandEnv(e.APIKey))
	e.APISecret = strings.TrimSpace(os.ExpandEnv(e.APISecret))
	e.TimeoutRaw = strings.TrimSpace(os.ExpandEnv(e.TimeoutRaw))
}

func (e *ExecutorConfig) parseDurations(name string) error {
	if e.TimeoutRaw == "" {
		e.Timeout = 0
		return nil
	}
	d, err := time.ParseDuration(e.TimeoutRaw)
	if err != nil {
		return fmt.Errorf("broker executor %s: invalid timeout %q: %w", name, e.TimeoutRaw, err)
	}
	if d <= 0 {
		return fmt.Errorf("broker executor %s: timeout must be positive, got %s", name, d)
	}
	e.Timeout = d
	return nil
}

// Validate ensures all executor entries are constructible.
func (c *Config) Validate() error {
	if len(c.Executors) == 0 {
		return fmt.Errorf("broker config: executors cannot be empty")
	}
	if c.Default != "" {
		if _, ok := c.Executors[c.Default]; !ok {
			return fmt.Errorf("broker config: default executor %q not defined", c.Default)
		}
	}
	for name, ec := range c.Executors {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("broker config: executor name cannot be empty")
		}
		if err := ec.validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (e *ExecutorConfig) validate(name string) error {
	if e == nil {
		return fmt.Errorf("broker config: executor %s is nil", name)
	}
	if strings.TrimSpace(e.Type) == "" {
		return fmt.Errorf("broker config: executor %s must specify type", name)
	}
	if _, ok := lookupExecutorBuilder(e.Type); !ok {
		return fmt.Errorf("broker config: executor %s has unsupported type %q", name, e.Type)
	}
	if strings.ToLower(e.Type) == "hyperliquid" && e.PrivateKey == "" {
		return fmt.Errorf("broker config: executor %s requires private_key", name)
	}
	return nil
}

// BuildExecutors instantiates every configured executor.
func (c *Config) BuildExecutors() (map[string]Executor, error) {
	result := make(map[string]Executor, len(c.Executors))
	for name, ec := range c.Executors {
		builder, ok := lookupExecutorBuilder(ec.Type)
		if !ok {
			return nil, fmt.Errorf("broker executor %s: unsupported type %q", name, ec.Type)
		}
		exec, err := builder(name, ec)
		if err != nil {
			return nil, fmt.Errorf("broker executor %s: %w", name, err)
		}
		result[name] = exec
	}
	return result, nil
}
