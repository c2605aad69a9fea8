package comm

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the tunables of the communication core. Zero values are
// replaced by defaults in Normalize; Validate rejects values that cannot be
// defaulted away.
type Config struct {
	// Message bus
	AsyncThreshold  int           `json:"async_threshold" yaml:"async_threshold"`
	WorkerPoolSize  int           `json:"worker_pool_size" yaml:"worker_pool_size"`
	DeliveryTimeout time.Duration `json:"delivery_timeout" yaml:"delivery_timeout"`
	SweepInterval   time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// Typed event system
	QueueTickInterval time.Duration `json:"queue_tick_interval" yaml:"queue_tick_interval"`
	BatchTickInterval time.Duration `json:"batch_tick_interval" yaml:"batch_tick_interval"`
	DeferredDelay     time.Duration `json:"deferred_delay" yaml:"deferred_delay"`
	QueueDrainLimit   int           `json:"queue_drain_limit" yaml:"queue_drain_limit"`
	HistorySize       int           `json:"history_size" yaml:"history_size"`

	// Request/response
	RequestSweepInterval time.Duration `json:"request_sweep_interval" yaml:"request_sweep_interval"`
	DefaultCallTimeout   time.Duration `json:"default_call_timeout" yaml:"default_call_timeout"`

	// Diagnostics
	EnableJournal bool `json:"enable_journal" yaml:"enable_journal"`
	JournalSize   int  `json:"journal_size" yaml:"journal_size"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		AsyncThreshold:       5,
		WorkerPoolSize:       10,
		DeliveryTimeout:      5 * time.Second,
		SweepInterval:        time.Minute,
		IdleTimeout:          30 * time.Minute,
		QueueTickInterval:    10 * time.Millisecond,
		BatchTickInterval:    100 * time.Millisecond,
		DeferredDelay:        100 * time.Millisecond,
		QueueDrainLimit:      32,
		HistorySize:          128,
		RequestSweepInterval: 50 * time.Millisecond,
		DefaultCallTimeout:   30 * time.Second,
		EnableJournal:        false,
		JournalSize:          256,
	}
}

// Normalize fills unset fields with defaults and returns the result.
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.AsyncThreshold == 0 {
		c.AsyncThreshold = def.AsyncThreshold
	}
	if c.WorkerPoolSize == 0 {
		c.WorkerPoolSize = def.WorkerPoolSize
	}
	if c.DeliveryTimeout == 0 {
		c.DeliveryTimeout = def.DeliveryTimeout
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.QueueTickInterval == 0 {
		c.QueueTickInterval = def.QueueTickInterval
	}
	if c.BatchTickInterval == 0 {
		c.BatchTickInterval = def.BatchTickInterval
	}
	if c.DeferredDelay == 0 {
		c.DeferredDelay = def.DeferredDelay
	}
	if c.QueueDrainLimit == 0 {
		c.QueueDrainLimit = def.QueueDrainLimit
	}
	if c.HistorySize == 0 {
		c.HistorySize = def.HistorySize
	}
	if c.RequestSweepInterval == 0 {
		c.RequestSweepInterval = def.RequestSweepInterval
	}
	if c.DefaultCallTimeout == 0 {
		c.DefaultCallTimeout = def.DefaultCallTimeout
	}
	if c.JournalSize == 0 {
		c.JournalSize = def.JournalSize
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.AsyncThreshold < 0 {
		return fmt.Errorf("%w: async_threshold must be non-negative", ErrInvalidConfiguration)
	}
	if c.WorkerPoolSize < 0 {
		return fmt.Errorf("%w: worker_pool_size must be non-negative", ErrInvalidConfiguration)
	}
	if c.DeliveryTimeout < 0 || c.SweepInterval < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("%w: bus intervals must be non-negative", ErrInvalidConfiguration)
	}
	if c.QueueTickInterval < 0 || c.BatchTickInterval < 0 || c.DeferredDelay < 0 {
		return fmt.Errorf("%w: event intervals must be non-negative", ErrInvalidConfiguration)
	}
	if c.QueueDrainLimit < 0 || c.HistorySize < 0 || c.JournalSize < 0 {
		return fmt.Errorf("%w: sizes must be non-negative", ErrInvalidConfiguration)
	}
	return nil
}

// configDoc mirrors Config with durations as strings so documents can say
// "5s" or "250ms" instead of nanosecond integers.
type configDoc struct {
	AsyncThreshold       int    `json:"async_threshold" yaml:"async_threshold"`
	WorkerPoolSize       int    `json:"worker_pool_size" yaml:"worker_pool_size"`
	DeliveryTimeout      string `json:"delivery_timeout" yaml:"delivery_timeout"`
	SweepInterval        string `json:"sweep_interval" yaml:"sweep_interval"`
	IdleTimeout          string `json:"idle_timeout" yaml:"idle_timeout"`
	QueueTickInterval    string `json:"queue_tick_interval" yaml:"queue_tick_interval"`
	BatchTickInterval    string `json:"batch_tick_interval" yaml:"batch_tick_interval"`
	DeferredDelay        string `json:"deferred_delay" yaml:"deferred_delay"`
	QueueDrainLimit      int    `json:"queue_drain_limit" yaml:"queue_drain_limit"`
	HistorySize          int    `json:"history_size" yaml:"history_size"`
	RequestSweepInterval string `json:"request_sweep_interval" yaml:"request_sweep_interval"`
	DefaultCallTimeout   string `json:"default_call_timeout" yaml:"default_call_timeout"`
	EnableJournal        bool   `json:"enable_journal" yaml:"enable_journal"`
	JournalSize          int    `json:"journal_size" yaml:"journal_size"`
}

func (d configDoc) toConfig() (Config, error) {
	c := Config{
		AsyncThreshold:  d.AsyncThreshold,
		WorkerPoolSize:  d.WorkerPoolSize,
		QueueDrainLimit: d.QueueDrainLimit,
		HistorySize:     d.HistorySize,
		EnableJournal:   d.EnableJournal,
		JournalSize:     d.JournalSize,
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"delivery_timeout", d.DeliveryTimeout, &c.DeliveryTimeout},
		{"sweep_interval", d.SweepInterval, &c.SweepInterval},
		{"idle_timeout", d.IdleTimeout, &c.IdleTimeout},
		{"queue_tick_interval", d.QueueTickInterval, &c.QueueTickInterval},
		{"batch_tick_interval", d.BatchTickInterval, &c.BatchTickInterval},
		{"deferred_delay", d.DeferredDelay, &c.DeferredDelay},
		{"request_sweep_interval", d.RequestSweepInterval, &c.RequestSweepInterval},
		{"default_call_timeout", d.DefaultCallTimeout, &c.DefaultCallTimeout},
	} {
		if f.raw == "" {
			continue
		}
		dur, err := time.ParseDuration(f.raw)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfiguration, f.name, err)
		}
		*f.dst = dur
	}
	return c, nil
}

// UnmarshalJSON decodes durations from strings like "5s".
func (c *Config) UnmarshalJSON(data []byte) error {
	var d configDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	parsed, err := d.toConfig()
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// UnmarshalYAML decodes durations from strings like "5s".
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var d configDoc
	if err := node.Decode(&d); err != nil {
		return err
	}
	parsed, err := d.toConfig()
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// LoadJSON decodes a Config from a JSON reader.
func LoadJSON(r io.Reader) (Config, error) {
	var c Config
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	c = c.Normalize()
	return c, c.Validate()
}

// LoadYAML decodes a Config from a YAML reader.
func LoadYAML(r io.Reader) (Config, error) {
	var c Config
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	c = c.Normalize()
	return c, c.Validate()
}
