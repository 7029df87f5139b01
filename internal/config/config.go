package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every tunable of the swap core. Values come from an optional
// YAML file and MAGICMIRROR_* environment overrides, with defaults registered
// in code.
type Config struct {
	ModelsDir string `mapstructure:"models_dir"`
	LogLevel  string `mapstructure:"log_level"`
	LogFile   string `mapstructure:"log_file"`

	Detector DetectorConfig `mapstructure:"detector"`
	Swap     SwapConfig     `mapstructure:"swap"`
	Video    VideoConfig    `mapstructure:"video"`
}

type DetectorConfig struct {
	InputSize     int     `mapstructure:"input_size"`
	ConfThreshold float32 `mapstructure:"conf_threshold"`
	NMSThreshold  float32 `mapstructure:"nms_threshold"`
	MaxDetectSide int     `mapstructure:"max_detect_side"`
}

type SwapConfig struct {
	// ColorBlend mixes the statistically color-matched face with the raw
	// generator output. 0 keeps the raw output, 1 applies the full transfer.
	ColorBlend float32 `mapstructure:"color_blend"`
	Enhance    bool    `mapstructure:"enhance"`
}

type VideoConfig struct {
	// Workers sets the CPU worker pool size; 0 means min(6, num_cores-1).
	Workers        int  `mapstructure:"workers"`
	UseAccelerator bool `mapstructure:"use_accelerator"`
}

// Load reads configuration from the usual locations.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("magicmirror")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/magicmirror")

	setDefaults(v)

	v.SetEnvPrefix("MAGICMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("models_dir", "models")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")

	v.SetDefault("detector.input_size", 640)
	v.SetDefault("detector.conf_threshold", 0.5)
	v.SetDefault("detector.nms_threshold", 0.4)
	v.SetDefault("detector.max_detect_side", 1920)

	v.SetDefault("swap.color_blend", 0.5)
	v.SetDefault("swap.enhance", false)

	v.SetDefault("video.workers", 0)
	v.SetDefault("video.use_accelerator", false)
}

// WorkerCount resolves the effective worker pool size following the GPU
// contention rule: accelerated sessions thrash with more than two workers.
func (c VideoConfig) WorkerCount() int {
	if c.UseAccelerator {
		return 2
	}
	if c.Workers > 0 {
		return c.Workers
	}
	n := runtime.NumCPU() - 1
	if n > 6 {
		n = 6
	}
	if n < 1 {
		n = 1
	}
	return n
}
