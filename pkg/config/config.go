// Package config provides configuration management for the card-refine
// runtime and its recording services.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config holds all configuration for the process.
type Config struct {
	Heap       HeapConfig       `mapstructure:"heap"`
	Barrier    BarrierConfig    `mapstructure:"barrier"`
	Refinement RefinementConfig `mapstructure:"refinement"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Log        LogConfig        `mapstructure:"log"`
}

// HeapConfig holds the simulated heap geometry.
type HeapConfig struct {
	HeapBytes   uint64 `mapstructure:"heap_bytes"`
	RegionBytes uint64 `mapstructure:"region_bytes"`
	CardShift   uint   `mapstructure:"card_shift"`
}

// BarrierConfig holds the write-barrier and queue flags.
type BarrierConfig struct {
	// UseWrittenCardQueues enables the written-card queue barrier.
	UseWrittenCardQueues bool `mapstructure:"use_written_card_queues"`
	// UseInlineWrittenCardBuffers stores entries inline in each queue.
	UseInlineWrittenCardBuffers bool `mapstructure:"use_inline_written_card_buffers"`
	// DeferDirtyingWrittenCards hands filled buffers to refinement threads.
	DeferDirtyingWrittenCards bool `mapstructure:"defer_dirtying_written_cards"`
	// WrittenCardFilter selects the barrier filter: 0 none, 1 young,
	// 2 previous.
	WrittenCardFilter uint `mapstructure:"written_card_filter"`
	// SATBBufferSize is the entry capacity of SATB mark buffers.
	SATBBufferSize uint64 `mapstructure:"satb_buffer_size"`
	// WrittenCardBufferSize is the entry capacity of written-card buffers.
	WrittenCardBufferSize uint64 `mapstructure:"written_card_buffer_size"`
	// UpdateBufferSize is the entry capacity of dirty-card buffers.
	UpdateBufferSize uint64 `mapstructure:"update_buffer_size"`
	// UseTLAB enables thread-local allocation buffers.
	UseTLAB bool `mapstructure:"use_tlab"`
	// TLABBytes is the TLAB window size.
	TLABBytes uint64 `mapstructure:"tlab_bytes"`
}

// RefinementConfig holds the concurrent refinement settings.
type RefinementConfig struct {
	MaxWorkers       uint   `mapstructure:"max_workers"`
	TargetDirtyCards uint64 `mapstructure:"target_dirty_cards"`
	UpdatePeriodMS   uint   `mapstructure:"update_period_ms"`
}

// DatabaseConfig holds database connection configuration for the pause
// stats recorder.
type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // postgres, mysql or sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// StorageConfig holds pause-report archive configuration.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`
	Scheme    string `mapstructure:"scheme"`
	LocalPath string `mapstructure:"local_path"`
	// RetainReports is how many archived pause reports to keep.
	RetainReports int `mapstructure:"retain_reports"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads configuration from the specified file path.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/card-refine")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults")
		} else if os.IsNotExist(err) {
			fmt.Printf("Config file %s not found, using defaults\n", configPath)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Allow environment variables to override config.
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from raw content (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Heap defaults: 256 MiB heap, 1 MiB regions, 512 B cards.
	v.SetDefault("heap.heap_bytes", 256<<20)
	v.SetDefault("heap.region_bytes", 1<<20)
	v.SetDefault("heap.card_shift", 9)

	// Barrier defaults
	v.SetDefault("barrier.use_written_card_queues", true)
	v.SetDefault("barrier.use_inline_written_card_buffers", false)
	v.SetDefault("barrier.defer_dirtying_written_cards", true)
	v.SetDefault("barrier.written_card_filter", 0)
	v.SetDefault("barrier.satb_buffer_size", 1024)
	v.SetDefault("barrier.written_card_buffer_size", 512)
	v.SetDefault("barrier.update_buffer_size", 256)
	v.SetDefault("barrier.use_tlab", true)
	v.SetDefault("barrier.tlab_bytes", 64<<10)

	// Refinement defaults
	v.SetDefault("refinement.max_workers", 4)
	v.SetDefault("refinement.target_dirty_cards", 4096)
	v.SetDefault("refinement.update_period_ms", 5)

	// Database defaults
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "card_refine")
	v.SetDefault("database.max_conns", 10)

	// Storage defaults
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./storage")
	v.SetDefault("storage.retain_reports", 30)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "./logs")
	v.SetDefault("log.format", "text")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Barrier.WrittenCardFilter > 2 {
		return fmt.Errorf("written card filter must be 0, 1 or 2, got %d", c.Barrier.WrittenCardFilter)
	}
	if c.Barrier.WrittenCardBufferSize == 0 || c.Barrier.UpdateBufferSize == 0 {
		return fmt.Errorf("queue buffer sizes must be non-zero")
	}
	if c.Heap.RegionBytes == 0 || c.Heap.HeapBytes%c.Heap.RegionBytes != 0 {
		return fmt.Errorf("heap size must be a multiple of the region size")
	}
	if c.Heap.CardShift < 7 || c.Heap.CardShift > 12 {
		return fmt.Errorf("card shift must be between 7 and 12, got %d", c.Heap.CardShift)
	}
	if c.Refinement.MaxWorkers < 1 {
		return fmt.Errorf("refinement worker count must be at least 1")
	}
	switch c.Database.Type {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	return nil
}
