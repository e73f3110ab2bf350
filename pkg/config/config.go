package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tartfs/tartfs/pkg/block"
)

const (
	DefaultManifestFileName = "MANIFEST"
	CurrentManifestVersion  = 1

	DefaultImageFileName = "store.tart"
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrManifestNotFound = errors.New("manifest not found")
	ErrInvalidManifest  = errors.New("invalid manifest")
)

// Config carries the geometry and service settings of one store.
type Config struct {
	Version int `json:"version"`

	// Device configuration
	ImagePath    string `json:"image_path"`
	DeviceBlocks uint32 `json:"device_blocks"`
	BlockSize    int    `json:"block_size"`

	// File table configuration
	MaxFiles uint32 `json:"max_files"`

	// Control service configuration
	ListenAddr     string `json:"listen_addr"`
	MaxMessageSize int    `json:"max_message_size"`

	// Telemetry configuration
	TelemetryEnabled bool   `json:"telemetry_enabled"`
	LogLevel         string `json:"log_level"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig(storePath string) *Config {
	return &Config{
		Version: CurrentManifestVersion,

		ImagePath:    filepath.Join(storePath, DefaultImageFileName),
		DeviceBlocks: 4096, // 16MB image
		BlockSize:    block.Size,

		MaxFiles: 128,

		ListenAddr:     "localhost:50061",
		MaxMessageSize: 8 * 1024 * 1024, // 8MB

		TelemetryEnabled: false,
		LogLevel:         "info",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.ImagePath == "" {
		return fmt.Errorf("%w: image path not specified", ErrInvalidConfig)
	}

	if c.BlockSize != block.Size {
		return fmt.Errorf("%w: block size must be %d, got %d", ErrInvalidConfig, block.Size, c.BlockSize)
	}

	if c.DeviceBlocks == 0 {
		return fmt.Errorf("%w: device must have at least one block", ErrInvalidConfig)
	}

	if c.MaxFiles == 0 {
		return fmt.Errorf("%w: max files must be positive", ErrInvalidConfig)
	}

	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max message size must be positive", ErrInvalidConfig)
	}

	return nil
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

// SaveManifest persists the configuration as the store's manifest file
func (c *Config) SaveManifest(storePath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(storePath, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	c.mu.RLock()
	data, err := json.MarshalIndent(c, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	manifestPath := filepath.Join(storePath, DefaultManifestFileName)
	tmpPath := manifestPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmpPath, manifestPath); err != nil {
		return fmt.Errorf("failed to install manifest: %w", err)
	}

	return nil
}

// LoadConfigFromManifest loads the configuration from a store's manifest file
func LoadConfigFromManifest(storePath string) (*Config, error) {
	manifestPath := filepath.Join(storePath, DefaultManifestFileName)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
