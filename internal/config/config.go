package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/audiolibrelab/pcmcapture/internal/audio"
)

type GlobalsConfig struct {
	Output GlobalOutputConfig `mapstructure:"output" yaml:"output"`
}

type GlobalOutputConfig struct {
	RecordingsDirectory string `mapstructure:"recordings_directory" yaml:"recordings_directory"`
}

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig     `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Audio  AudioConfig  `mapstructure:"audio" yaml:"audio"`
	Output OutputConfig `mapstructure:"output" yaml:"output"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`

	// Internal field to track inheritance information for config show
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type InheritanceInfo struct {
	Audio struct {
		SampleRate string // "inherited" or "profile-specific"
		Channels   string
		Source     string
		Backend    string
	}
	Output struct {
		Directory string
	}
}

type AudioConfig struct {
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int    `mapstructure:"channels" yaml:"channels"`
	Source     string `mapstructure:"source" yaml:"source"`   // "mic", "camcorder" or a device name
	Backend    string `mapstructure:"backend" yaml:"backend"` // "auto", "portaudio", "pipewire", "tone"
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

const (
	inherited       = "inherited"
	profileSpecific = "profile-specific"
)

var defaultConfig = Config{
	Audio: AudioConfig{
		SampleRate: audio.DefaultSampleRate,
		Channels:   audio.DefaultChannels,
		Source:     string(audio.SourceMic),
		Backend:    string(audio.BackendTypeAuto),
	},
	Output: OutputConfig{
		Directory: filepath.Join(os.Getenv("HOME"), "Audio", "PCMCapture"),
	},
	Log: LogConfig{
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	},
}

// Default returns the built-in configuration used when no config file exists.
func Default() *Config {
	cfg := defaultConfig
	return &cfg
}

// DefaultConfigPath returns ~/.config/pcmcapture.yaml
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "pcmcapture.yaml")
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	// Validate configuration format first
	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedConfig, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	// Profiles inherit from the default profile, which inherits from the built-in defaults
	base := Default()
	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists {
			base = mergeConfigs(base, defaultProfile)
		}
	}
	result := mergeConfigs(base, selectedConfig)

	// Global recordings directory takes priority over profile-specific directory
	if rootConfig.Globals != nil && rootConfig.Globals.Output.RecordingsDirectory != "" {
		result.Output.Directory = rootConfig.Globals.Output.RecordingsDirectory
	}

	result.Output.Directory = expandPath(result.Output.Directory)
	result.Log.File = expandPath(result.Log.File)

	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return result, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	// Read current config
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	if !v.IsSet("configs." + newActiveConfig) {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	// Update the active_config field
	v.Set("active_config", newActiveConfig)

	// Write back to file
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// mergeConfigs overlays profile on base: every zero-valued profile setting
// falls back to the base value.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{}
	result.Inheritance = &InheritanceInfo{}

	if base != nil {
		result.Audio = base.Audio
		result.Output = base.Output
		result.Log = base.Log
	}
	result.Inheritance.Audio.SampleRate = inherited
	result.Inheritance.Audio.Channels = inherited
	result.Inheritance.Audio.Source = inherited
	result.Inheritance.Audio.Backend = inherited
	result.Inheritance.Output.Directory = inherited

	if profile == nil {
		return result
	}

	if profile.Audio.SampleRate != 0 {
		result.Audio.SampleRate = profile.Audio.SampleRate
		result.Inheritance.Audio.SampleRate = profileSpecific
	}
	if profile.Audio.Channels != 0 {
		result.Audio.Channels = profile.Audio.Channels
		result.Inheritance.Audio.Channels = profileSpecific
	}
	if profile.Audio.Source != "" {
		result.Audio.Source = profile.Audio.Source
		result.Inheritance.Audio.Source = profileSpecific
	}
	if profile.Audio.Backend != "" {
		result.Audio.Backend = profile.Audio.Backend
		result.Inheritance.Audio.Backend = profileSpecific
	}
	if profile.Output.Directory != "" {
		result.Output.Directory = profile.Output.Directory
		result.Inheritance.Output.Directory = profileSpecific
	}

	if profile.Log.File != "" {
		result.Log.File = profile.Log.File
	}
	if profile.Log.MaxSizeMB != 0 {
		result.Log.MaxSizeMB = profile.Log.MaxSizeMB
	}
	if profile.Log.MaxBackups != 0 {
		result.Log.MaxBackups = profile.Log.MaxBackups
	}
	if profile.Log.MaxAgeDays != 0 {
		result.Log.MaxAgeDays = profile.Log.MaxAgeDays
	}

	return result
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Validate checks the resolved configuration
func (c *Config) Validate() error {
	if c.Audio.SampleRate < audio.MinSampleRate || c.Audio.SampleRate > audio.MaxSampleRate {
		return fmt.Errorf("audio.sample_rate must be between %d and %d, got %d", audio.MinSampleRate, audio.MaxSampleRate, c.Audio.SampleRate)
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got %d", c.Audio.Channels)
	}
	if strings.TrimSpace(c.Audio.Source) == "" {
		return fmt.Errorf("audio.source is required")
	}
	if _, err := audio.ParseBackend(c.Audio.Backend); err != nil {
		return fmt.Errorf("audio.backend: %w", err)
	}
	if strings.TrimSpace(c.Output.Directory) == "" {
		return fmt.Errorf("output.directory is required")
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation settings cannot be negative")
	}
	return nil
}

// CaptureConfig converts the audio section into a capture format.
func (c *Config) CaptureConfig() audio.CaptureConfig {
	return audio.CaptureConfig{
		SampleRate:    uint32(c.Audio.SampleRate),
		Channels:      uint16(c.Audio.Channels),
		BitsPerSample: audio.BitsPerSample,
		Source:        audio.Source(c.Audio.Source),
	}
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	// Set environment variable prefix
	v.SetEnvPrefix("PCMCAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section cannot be empty")
	}
	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("config '%s' is empty", name)
		}
		if profile.Audio.Channels != 0 && profile.Audio.Channels != 1 && profile.Audio.Channels != 2 {
			return nil, fmt.Errorf("invalid config '%s': audio.channels must be 1 or 2, got %d", name, profile.Audio.Channels)
		}
		if profile.Audio.Backend != "" {
			if _, err := audio.ParseBackend(profile.Audio.Backend); err != nil {
				return nil, fmt.Errorf("invalid config '%s': %w", name, err)
			}
		}
	}
	if rootConfig.ActiveConfig != "" {
		if _, exists := rootConfig.Configs[rootConfig.ActiveConfig]; !exists {
			return nil, fmt.Errorf("active_config '%s' not found in configs", rootConfig.ActiveConfig)
		}
	}

	return &rootConfig, nil
}
