// Package config loads the conveyor CLI configuration from an optional YAML file and CONVEYOR_
// environment variables
package config

import (
	"io"
	"os"
	"strings"

	cerrors "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/vkngwrapper/conveyor/datalloc"
	"github.com/vkngwrapper/conveyor/internal/bytesize"
	"golang.org/x/exp/slog"
)

// EnvPrefix is the prefix of environment variables that override configuration keys. Nested keys
// join with underscores: CONVEYOR_LOGGING_LEVEL sets logging.level.
const EnvPrefix = "CONVEYOR"

type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Backend  string         `mapstructure:"backend" validate:"oneof=host vulkan" yaml:"backend"`
	Vulkan   VulkanConfig   `mapstructure:"vulkan" yaml:"vulkan"`
	Buffers  BuffersConfig  `mapstructure:"buffers" yaml:"buffers"`
	Transfer TransferConfig `mapstructure:"transfer" yaml:"transfer"`
	Bench    BenchConfig    `mapstructure:"bench" yaml:"bench"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"oneof=text json" yaml:"format"`
}

type VulkanConfig struct {
	// Validation turns on the validation layer messenger when the driver offers it
	Validation     bool `mapstructure:"validation" yaml:"validation"`
	PhysicalDevice int  `mapstructure:"physical_device" validate:"gte=0" yaml:"physical_device"`
	MappableAll    bool `mapstructure:"mappable_all" yaml:"mappable_all"`
}

// BuffersConfig holds the initial size of each shared datalloc buffer
type BuffersConfig struct {
	Staging  bytesize.ByteSize `mapstructure:"staging" validate:"gt=0" yaml:"staging"`
	Vertex   bytesize.ByteSize `mapstructure:"vertex" validate:"gt=0" yaml:"vertex"`
	Index    bytesize.ByteSize `mapstructure:"index" validate:"gt=0" yaml:"index"`
	Uniform  bytesize.ByteSize `mapstructure:"uniform" validate:"gt=0" yaml:"uniform"`
	Storage  bytesize.ByteSize `mapstructure:"storage" validate:"gt=0" yaml:"storage"`
	Indirect bytesize.ByteSize `mapstructure:"indirect" validate:"gt=0" yaml:"indirect"`
}

// InitialSizes converts the configuration into datalloc.CreateOptions.InitialSizes
func (c BuffersConfig) InitialSizes() map[datalloc.BufferType]int {
	return map[datalloc.BufferType]int{
		datalloc.BufferTypeStaging:  c.Staging.Int(),
		datalloc.BufferTypeVertex:   c.Vertex.Int(),
		datalloc.BufferTypeIndex:    c.Index.Int(),
		datalloc.BufferTypeUniform:  c.Uniform.Int(),
		datalloc.BufferTypeStorage:  c.Storage.Int(),
		datalloc.BufferTypeIndirect: c.Indirect.Int(),
	}
}

type TransferConfig struct {
	QueueCapacity int `mapstructure:"queue_capacity" validate:"gte=1" yaml:"queue_capacity"`
}

type BenchConfig struct {
	// Sizes are the payload sizes that each bench round uploads and downloads
	Sizes      []bytesize.ByteSize `mapstructure:"sizes" validate:"min=1,dive,gt=0" yaml:"sizes"`
	Iterations int                 `mapstructure:"iterations" validate:"gte=1" yaml:"iterations"`
	Producers  int                 `mapstructure:"producers" validate:"gte=1,lte=64" yaml:"producers"`
}

type MetricsConfig struct {
	// Listen is the address /metrics is served on. Metrics are not served when it is empty.
	Listen string `mapstructure:"listen" validate:"omitempty,hostname_port" yaml:"listen"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("backend", "host")
	v.SetDefault("vulkan.validation", false)
	v.SetDefault("vulkan.physical_device", 0)
	v.SetDefault("vulkan.mappable_all", false)
	v.SetDefault("buffers.staging", "4Mi")
	v.SetDefault("buffers.vertex", "1Mi")
	v.SetDefault("buffers.index", "1Mi")
	v.SetDefault("buffers.uniform", "64Ki")
	v.SetDefault("buffers.storage", "1Mi")
	v.SetDefault("buffers.indirect", "64Ki")
	v.SetDefault("transfer.queue_capacity", 256)
	v.SetDefault("bench.sizes", []string{"4Ki", "64Ki", "1Mi"})
	v.SetDefault("bench.iterations", 100)
	v.SetDefault("bench.producers", 4)
	v.SetDefault("metrics.listen", "")
}

// Load reads the configuration. path may be empty, in which case only defaults and environment
// variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		err := v.ReadInConfig()
		if err != nil {
			return nil, cerrors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		bytesize.DecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, cerrors.Wrap(err, "failed to decode config")
	}

	err = Validate(&cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

var validate = validator.New()

// Validate checks the struct tags of every field
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err != nil {
		return cerrors.Wrap(err, "invalid configuration")
	}
	return nil
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// NewLogger builds the logger described by the logging section. A nil writer means stderr.
func (c LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	options := slog.HandlerOptions{Level: logLevels[c.Level]}
	if c.Format == "json" {
		return slog.New(options.NewJSONHandler(w))
	}
	return slog.New(options.NewTextHandler(w))
}
