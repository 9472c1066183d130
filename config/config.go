// rgbdapi/config/config.go
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	// Transport
	Port       string `mapstructure:"PORT"`
	BaseURL    string `mapstructure:"BASE"`
	AuthEnable bool   `mapstructure:"AUTH_ENABLE"`
	AuthKey    string `mapstructure:"AUTH_KEY"`

	// Media tools
	FFBin          string        `mapstructure:"FF_BIN"`
	FFProbeBin     string        `mapstructure:"FFPROBE_BIN"`
	FFTimeout      time.Duration `mapstructure:"FF_TIMEOUT"`
	ProbeTimeout   time.Duration `mapstructure:"PROBE_TIMEOUT"`
	ExtractTimeout time.Duration `mapstructure:"EXTRACT_TIMEOUT"`
	MergeTimeout   time.Duration `mapstructure:"MERGE_TIMEOUT"`
	EncodeArgs     string        `mapstructure:"ENCODE_ARGS"`

	// Storage
	MaxInputSize        int64         `mapstructure:"MAX_INPUT_SIZE"`
	UploadDir           string        `mapstructure:"UPLOAD_DIR"`
	OutputDir           string        `mapstructure:"OUTPUT_DIR"`
	OutputLocalLifetime time.Duration `mapstructure:"OUTPUT_LOCAL_LIFETIME"`
	HistoryDB           string        `mapstructure:"HISTORY_DB"`

	// Resource throttle, checked before a job starts
	ThrottleCPU      float64 `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64   `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64   `mapstructure:"THROTTLE_FREEDISK"`

	// Depth model
	CheckpointDir  string `mapstructure:"CHECKPOINT_DIR"`
	DepthWorker    string `mapstructure:"DEPTH_WORKER"`
	Device         string `mapstructure:"DEVICE"`
	DefaultEncoder string `mapstructure:"DEFAULT_ENCODER"`
	InputSize      int    `mapstructure:"INPUT_SIZE"`
	MaxRes         int    `mapstructure:"MAX_RES"`
	DepthWindow    int    `mapstructure:"DEPTH_WINDOW"`
	DepthOverlap   int    `mapstructure:"DEPTH_OVERLAP"`

	// DepthTimeout limits one model load or one window of inference.
	DepthTimeout time.Duration `mapstructure:"DEPTH_TIMEOUT"`

	// Observability
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	LogFile          string        `mapstructure:"LOG_FILE"`
	ProgressInterval time.Duration `mapstructure:"PROGRESS_INTERVAL"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(data.(string))); err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("PORT", "8420")
	vp.SetDefault("BASE", "")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "")

	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("FF_TIMEOUT", "30m")
	vp.SetDefault("PROBE_TIMEOUT", "30s")
	vp.SetDefault("EXTRACT_TIMEOUT", "5m")
	vp.SetDefault("MERGE_TIMEOUT", "10m")
	vp.SetDefault("ENCODE_ARGS", "-crf 18")

	vp.SetDefault("MAX_INPUT_SIZE", "2GB")
	vp.SetDefault("UPLOAD_DIR", "uploads")
	vp.SetDefault("OUTPUT_DIR", "outputs")
	vp.SetDefault("OUTPUT_LOCAL_LIFETIME", "0s")
	vp.SetDefault("HISTORY_DB", "rgbdapi_history.db")

	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", "500MB")
	vp.SetDefault("THROTTLE_FREEDISK", "1GB")

	vp.SetDefault("CHECKPOINT_DIR", "checkpoints")
	vp.SetDefault("DEPTH_WORKER", "python -m video_depth_anything.worker")
	vp.SetDefault("DEVICE", "auto")
	vp.SetDefault("DEFAULT_ENCODER", "vitl")
	vp.SetDefault("INPUT_SIZE", 518)
	vp.SetDefault("MAX_RES", 1280)
	vp.SetDefault("DEPTH_WINDOW", 32)
	vp.SetDefault("DEPTH_OVERLAP", 10)
	vp.SetDefault("DEPTH_TIMEOUT", "10m")

	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_FILE", "")
	vp.SetDefault("PROGRESS_INTERVAL", "500ms")
}

func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file, which must exist.
func LoadFile(path string) (*Config, error) {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	vp := viper.New()
	setDefaults(vp)

	if path != "" {
		vp.SetConfigFile(path)
		if err := vp.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		vp.SetConfigName("rgbdapi_config")
		vp.SetConfigType("yaml")
		vp.AddConfigPath(".")
		vp.AddConfigPath("/etc/rgbdapi/")

		if err := vp.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	vp.SetEnvPrefix("RGBDAPI")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The first hook that converts the value wins.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
