// Package config loads runner settings from YAML, environment variables and
// defaults. Environment variables use the BENCH_ prefix with dots mapped to
// underscores, so BENCH_LOCK_DIR overrides lock.dir.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runner configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Benchmark BenchmarkConfig `mapstructure:"benchmark"`
	Build     BuildConfig     `mapstructure:"build"`
	Lock      LockConfig      `mapstructure:"lock"`
	History   HistoryConfig   `mapstructure:"history"`
	NATS      NATSConfig      `mapstructure:"nats"`
	S3        S3Config        `mapstructure:"s3"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Logs      LogsConfig      `mapstructure:"logs"`
}

// AppConfig names the process and sets its log level.
type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
}

// BenchmarkConfig selects what to measure and how.
type BenchmarkConfig struct {
	ConfigFile      string        `mapstructure:"config_file"`
	Executors       string        `mapstructure:"executors"`
	Models          string        `mapstructure:"models"`
	DeviceTypes     string        `mapstructure:"device_types"`
	TargetABIs      []string      `mapstructure:"target_abis"`
	TargetSoCs      []string      `mapstructure:"target_socs"`
	Option          string        `mapstructure:"option"`
	RunInterval     time.Duration `mapstructure:"run_interval"`
	NumThreads      int           `mapstructure:"num_threads"`
	MaxTimePerLock  time.Duration `mapstructure:"max_time_per_lock"`
	RemoteDir       string        `mapstructure:"remote_dir"`
	OutputDir       string        `mapstructure:"output_dir"`
	CacheDir        string        `mapstructure:"cache_dir"`
	DatasetDir      string        `mapstructure:"dataset_dir"`
	DatasetChecksum string        `mapstructure:"dataset_checksum"`
}

// BuildConfig drives the bazel build, natively or inside a container.
type BuildConfig struct {
	Target      string `mapstructure:"target"`
	NDKHome     string `mapstructure:"ndk_home"`
	Docker      bool   `mapstructure:"docker"`
	DockerImage string `mapstructure:"docker_image"`
	Workspace   string `mapstructure:"workspace"`
}

// LockConfig places the cross-process device locks.
type LockConfig struct {
	Dir     string        `mapstructure:"dir"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HistoryConfig controls the SQLite result archive.
type HistoryConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Path      string        `mapstructure:"path"`
	Retention time.Duration `mapstructure:"retention"`
}

// NATSConfig controls live result publishing.
type NATSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URLs           []string      `mapstructure:"urls"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// S3Config points model fetching at an S3-compatible object store.
type S3Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// ScheduleConfig repeats the run on a cron expression (six fields, with
// seconds).
type ScheduleConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Expression string `mapstructure:"expression"`
}

// MonitorConfig samples host load alongside runs.
type MonitorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// LogsConfig keeps a per-device file copy of live benchmark output.
type LogsConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Dir     string        `mapstructure:"dir"`
	MaxAge  time.Duration `mapstructure:"max_age"`
}

// Load reads configuration from path. An empty path searches ./config and the
// working directory; a missing file then just yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "mobile-ai-bench")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("benchmark.config_file", "config/benchmark.yaml")
	v.SetDefault("benchmark.executors", "all")
	v.SetDefault("benchmark.models", "all")
	v.SetDefault("benchmark.device_types", "all")
	v.SetDefault("benchmark.target_abis", []string{"armeabi-v7a"})
	v.SetDefault("benchmark.target_socs", []string{})
	v.SetDefault("benchmark.option", "Performance")
	v.SetDefault("benchmark.run_interval", 10*time.Second)
	v.SetDefault("benchmark.num_threads", 4)
	v.SetDefault("benchmark.max_time_per_lock", 10*time.Minute)
	v.SetDefault("benchmark.remote_dir", "/data/local/tmp/aibench")
	v.SetDefault("benchmark.output_dir", "output")
	v.SetDefault("benchmark.cache_dir", "output/cache")

	v.SetDefault("build.target", "//aibench/benchmark:model_benchmark")
	v.SetDefault("build.docker", false)
	v.SetDefault("build.docker_image", "mobile-ai-bench/build-env:latest")
	v.SetDefault("build.workspace", ".")

	v.SetDefault("lock.dir", "/tmp/aibench-device-locks")
	v.SetDefault("lock.timeout", time.Hour)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "output/bench_history.db")
	v.SetDefault("history.retention", 30*24*time.Hour)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.urls", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.max_reconnects", 5)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)

	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.use_ssl", true)

	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.expression", "0 0 2 * * *")

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", 30*time.Second)

	v.SetDefault("logs.enabled", true)
	v.SetDefault("logs.dir", "output/logs")
	v.SetDefault("logs.max_age", 7*24*time.Hour)
}
