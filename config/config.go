package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "debug-engine"
	envPrefix  = "DEBUG_ENGINE"
)

// Config 调试引擎的配置
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Backend BackendConfig `mapstructure:"backend"`
	Loop    LoopConfig    `mapstructure:"loop"`
	Memory  MemoryConfig  `mapstructure:"memory"`
	Threads ThreadsConfig `mapstructure:"threads"`
}

type ServerConfig struct {
	// Port DAP服务端口
	Port     int `mapstructure:"port"`
	// HookPort 插桩钩子监听端口，0表示不监听
	HookPort int `mapstructure:"hook_port"`
}

type LogConfig struct {
	// Path 日志文件，为空时输出到stderr
	Path   string `mapstructure:"path"`
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type BackendConfig struct {
	Kind           string        `mapstructure:"kind"`
	Path           string        `mapstructure:"path"`
	// Target launch请求没有指定program时调试的程序
	Target         string        `mapstructure:"target"`
	Args           string        `mapstructure:"args"`
	UsePTY         bool          `mapstructure:"use_pty"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

type LoopConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	EventBuffer  int           `mapstructure:"event_buffer"`
}

type MemoryConfig struct {
	LeakThreshold      time.Duration `mapstructure:"leak_threshold"`
	LongLivedThreshold time.Duration `mapstructure:"long_lived_threshold"`
	ScanEvery          uint64        `mapstructure:"scan_every"`
	SegmentSize        uint64        `mapstructure:"segment_size"`
	MaxSegments        int           `mapstructure:"max_segments"`
}

type ThreadsConfig struct {
	DeadlockScanInterval time.Duration `mapstructure:"deadlock_scan_interval"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8889,
			HookPort: 8890,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Backend: BackendConfig{
			Kind:           "gdb",
			CommandTimeout: 5 * time.Second,
		},
		Loop: LoopConfig{
			PollInterval: 10 * time.Millisecond,
			EventBuffer:  1024,
		},
		Memory: MemoryConfig{
			LeakThreshold:      300 * time.Second,
			LongLivedThreshold: 3600 * time.Second,
			ScanEvery:          1000,
			SegmentSize:        1024,
			MaxSegments:        65536,
		},
		Threads: ThreadsConfig{
			DeadlockScanInterval: time.Second,
		},
	}
}

// newViper 创建设置好默认值和环境变量的viper实例
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := Default()
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.hook_port", cfg.Server.HookPort)
	v.SetDefault("log.path", cfg.Log.Path)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("backend.kind", cfg.Backend.Kind)
	v.SetDefault("backend.path", cfg.Backend.Path)
	v.SetDefault("backend.target", cfg.Backend.Target)
	v.SetDefault("backend.args", cfg.Backend.Args)
	v.SetDefault("backend.use_pty", cfg.Backend.UsePTY)
	v.SetDefault("backend.command_timeout", cfg.Backend.CommandTimeout)
	v.SetDefault("loop.poll_interval", cfg.Loop.PollInterval)
	v.SetDefault("loop.event_buffer", cfg.Loop.EventBuffer)
	v.SetDefault("memory.leak_threshold", cfg.Memory.LeakThreshold)
	v.SetDefault("memory.long_lived_threshold", cfg.Memory.LongLivedThreshold)
	v.SetDefault("memory.scan_every", cfg.Memory.ScanEvery)
	v.SetDefault("memory.segment_size", cfg.Memory.SegmentSize)
	v.SetDefault("memory.max_segments", cfg.Memory.MaxSegments)
	v.SetDefault("threads.deadlock_scan_interval", cfg.Threads.DeadlockScanInterval)
	return v
}

// Load 从当前目录或者 $HOME/.debug-engine 读取 debug-engine.yaml，文件不存在时使用默认值
// 环境变量 DEBUG_ENGINE_* 优先于配置文件，例如 DEBUG_ENGINE_SERVER_PORT
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName(configName)
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, "."+configName))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	return unmarshal(v)
}

// LoadFromFile 读取指定的配置文件，文件必须存在
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
