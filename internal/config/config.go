package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/taoyao-code/rs485-master/internal/driver"
)

// AppConfig 应用基础信息
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// HTTPConfig 命令桥接 HTTP 服务配置
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// DriverConfig 驱动类型与默认连接参数；connect 命令携带的参数优先
type DriverConfig struct {
	Kind        string        `mapstructure:"kind"` // file | serial
	PortRx      string        `mapstructure:"portRx"`
	PortTx      string        `mapstructure:"portTx"`
	Port        string        `mapstructure:"port"`
	Baud        int           `mapstructure:"baud"`
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
	EOFBackoff  time.Duration `mapstructure:"eofBackoff"`
	CloseGrace  time.Duration `mapstructure:"closeGrace"`
	AutoConnect bool          `mapstructure:"autoConnect"` // 启动后立即用默认参数连接
}

// Params 把配置的默认连接参数转成驱动参数，未配置的键不出现
func (c DriverConfig) Params() driver.Params {
	p := driver.Params{}
	set := func(k, v string) {
		if v != "" {
			p[k] = v
		}
	}
	set(driver.ParamPortRx, c.PortRx)
	set(driver.ParamPortTx, c.PortTx)
	set(driver.ParamPort, c.Port)
	if c.Baud > 0 {
		p[driver.ParamBaudRate] = strconv.Itoa(c.Baud)
	}
	if c.ReadTimeout > 0 {
		p[driver.ParamReadTimeoutMs] = strconv.FormatInt(c.ReadTimeout.Milliseconds(), 10)
	}
	return p
}

// ProtocolConfig 协议层配置
type ProtocolConfig struct {
	// AddressBook 设备地址簿 YAML 路径，为空时使用内置默认（mab=200, mgb=201）
	AddressBook string `mapstructure:"addressBook"`
}

// AuthConfig API Key 认证
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	APIKeys []string `mapstructure:"apiKeys"`
}

// RateLimitConfig 命令准入限流
type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"perSecond"`
	Burst     int     `mapstructure:"burst"`
}

// APIConfig 命令桥接接口配置
type APIConfig struct {
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
}

// LumberjackConfig 日志滚动（lumberjack）配置
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig 日志级别与输出配置
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// RedisConfig 反馈发布所用的 Redis
type RedisConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"poolSize"`
	MinIdleConns    int           `mapstructure:"minIdleConns"`
	DialTimeout     time.Duration `mapstructure:"dialTimeout"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	FeedbackChannel string        `mapstructure:"feedbackChannel"`
}

// Config 顶层配置结构
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Driver   DriverConfig   `mapstructure:"driver"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	API      APIConfig      `mapstructure:"api"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// Load 从 YAML/TOML/JSON 文件与环境变量加载配置。
// 若 path 为空，则尝试从环境变量 RS485_CONFIG 读取；否则回退到 configs/example.yaml。
func Load(path string) (*Config, error) {
	v := viper.New()

	// 环境变量覆盖：前缀 RS485_，并将点号替换为下划线
	v.SetEnvPrefix("RS485")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("config")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("example")
		v.SetConfigType("yaml")
	}

	// 默认值
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 首次运行允许缺少配置文件，依赖默认值与环境变量
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 启动前检查
func (c *Config) Validate() error {
	switch strings.ToLower(c.Driver.Kind) {
	case driver.KindFile, driver.KindSerial:
	default:
		return fmt.Errorf("config: driver.kind %q: %w", c.Driver.Kind, driver.ErrUnknownDriver)
	}
	if c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("config: api.auth.enabled requires api.auth.apiKeys")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "rs485-master")
	v.SetDefault("app.env", "dev")

	v.SetDefault("http.addr", "127.0.0.1:8000")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	v.SetDefault("driver.kind", driver.KindFile)
	v.SetDefault("driver.portRx", "")
	v.SetDefault("driver.portTx", "")
	v.SetDefault("driver.port", "")
	v.SetDefault("driver.baud", driver.DefaultBaudRate)
	v.SetDefault("driver.readTimeout", "100ms")
	v.SetDefault("driver.eofBackoff", "100ms")
	v.SetDefault("driver.closeGrace", "2s")
	v.SetDefault("driver.autoConnect", false)

	v.SetDefault("protocol.addressBook", "")

	v.SetDefault("api.auth.enabled", false)
	v.SetDefault("api.auth.apiKeys", []string{})
	v.SetDefault("api.rateLimit.perSecond", 20)
	v.SetDefault("api.rateLimit.burst", 40)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "logs/rs485-master.log")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 10)
	v.SetDefault("redis.minIdleConns", 2)
	v.SetDefault("redis.dialTimeout", "5s")
	v.SetDefault("redis.readTimeout", "3s")
	v.SetDefault("redis.writeTimeout", "3s")
	v.SetDefault("redis.feedbackChannel", "rs485:feedback")
}
