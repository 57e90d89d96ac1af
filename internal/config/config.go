package config

import (
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/RoyceAzure/lab/cartsync/internal/constants"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// 設定檔路徑，未設定時讀取工作目錄下的 .env
const ConfigPathEnv = "CARTSYNC_CONFIG"

/*
把init config跟read config分開
init : 需要設置viper watch 與 onConfigChange
read config : 一般讀寫  需要使用讀寫鎖
*/
var config_singleton *ConfigSingleTon
var muonce sync.Once

type ConfigSingleTon struct {
	Config *Config
	mu     sync.RWMutex
}

type Config struct {
	Env        string `mapstructure:"ENV"`
	ServerPort string `mapstructure:"SERVER_PORT"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`

	BackendBaseURL    string        `mapstructure:"BACKEND_BASE_URL"`
	BackendTimeout    time.Duration `mapstructure:"BACKEND_TIMEOUT"`
	BackendRoutesFile string        `mapstructure:"BACKEND_ROUTES_FILE"`

	StorageDriver string        `mapstructure:"STORAGE_DRIVER"`
	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int           `mapstructure:"REDIS_DB"`
	RedisPrefix   string        `mapstructure:"REDIS_PREFIX"`
	GuestCartTTL  time.Duration `mapstructure:"GUEST_CART_TTL"`

	DbName string `mapstructure:"POSTGRES_DB"`
	DbHost string `mapstructure:"POSTGRES_HOST"`
	DbPort string `mapstructure:"POSTGRES_PORT"`
	DbUser string `mapstructure:"POSTGRES_USER"`
	DbPas  string `mapstructure:"POSTGRES_PASSWORD"`

	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	KafkaCartTopic  string `mapstructure:"KAFKA_CART_TOPIC"`
	KafkaPartitions int    `mapstructure:"KAFKA_PARTITIONS"`

	DebounceDelay      time.Duration `mapstructure:"DEBOUNCE_DELAY"`
	CartMigrateOnLogin bool          `mapstructure:"CART_MIGRATE_ON_LOGIN"`
	CartMigrateBackoff time.Duration `mapstructure:"CART_MIGRATE_RETRY_BACKOFF"`

	RateLimitDriver   string        `mapstructure:"RATE_LIMIT_DRIVER"`
	RateLimitCapacity int           `mapstructure:"RATE_LIMIT_CAPACITY"`
	RateLimitRate     float64       `mapstructure:"RATE_LIMIT_RATE"`
	RateLimitRefill   time.Duration `mapstructure:"RATE_LIMIT_REFILL"`

	GuestCookieName   string `mapstructure:"GUEST_COOKIE_NAME"`
	GuestCookieSecure bool   `mapstructure:"GUEST_COOKIE_SECURE"`
}

var defaults = map[string]any{
	"ENV":                        string(constants.Dev),
	"SERVER_PORT":                "8080",
	"LOG_LEVEL":                  "info",
	"BACKEND_BASE_URL":           "http://localhost:9000",
	"BACKEND_TIMEOUT":            constants.DefaultBackendTimeout,
	"BACKEND_ROUTES_FILE":        "",
	"STORAGE_DRIVER":             string(constants.StorageMemory),
	"REDIS_ADDR":                 "localhost:6379",
	"REDIS_PASSWORD":             "",
	"REDIS_DB":                   0,
	"REDIS_PREFIX":               "cartsync",
	"GUEST_CART_TTL":             constants.GuestCookieMaxAge,
	"POSTGRES_DB":                "cartsync",
	"POSTGRES_HOST":              "localhost",
	"POSTGRES_PORT":              "5432",
	"POSTGRES_USER":              "postgres",
	"POSTGRES_PASSWORD":          "",
	"KAFKA_BROKERS":              "",
	"KAFKA_CART_TOPIC":           "cart-events",
	"KAFKA_PARTITIONS":           6,
	"DEBOUNCE_DELAY":             constants.DefaultDebounceDelay,
	"CART_MIGRATE_ON_LOGIN":      false,
	"CART_MIGRATE_RETRY_BACKOFF": constants.DefaultMigrateRetryBackoff,
	"RATE_LIMIT_DRIVER":          "memory",
	"RATE_LIMIT_CAPACITY":        20,
	"RATE_LIMIT_RATE":            10.0,
	"RATE_LIMIT_REFILL":          100 * time.Millisecond,
	"GUEST_COOKIE_NAME":          constants.DefaultGuestCookie,
	"GUEST_COOKIE_SECURE":        false,
}

var ErrInvalidConfig = errors.New("invalid config")

func GetConfig() *Config {
	initConfig()
	config_singleton.mu.RLock()
	defer config_singleton.mu.RUnlock()
	return config_singleton.Config
}

func initConfig() {
	muonce.Do(func() {
		config_singleton = &ConfigSingleTon{}
		path := configPath()
		v := viper.GetViper()
		cf, err := LoadConfig(v, path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("error read config")
		}
		config_singleton.Config = cf

		if !fileExists(path) {
			return
		}
		v.OnConfigChange(func(e fsnotify.Event) {
			cf, err := LoadConfig(v, path)
			if err != nil {
				// 保留舊設定
				log.Error().Err(err).Str("path", path).Msg("failed to reload config file")
				return
			}
			config_singleton.mu.Lock()
			config_singleton.Config = cf
			config_singleton.mu.Unlock()
			log.Info().Str("path", path).Msg("config reloaded")
		})
		v.WatchConfig()
	})
}

/*
LoadConfig 預設值 < 設定檔 < 環境變數
設定檔不存在時只使用預設值與環境變數
單純回傳錯誤  由外部決定要不要Fatal
*/
func LoadConfig(v *viper.Viper, path string) (*Config, error) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path != "" && fileExists(path) {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cf := &Config{}
	if err := v.Unmarshal(cf); err != nil {
		return nil, err
	}
	if err := cf.Validate(); err != nil {
		return nil, err
	}
	return cf, nil
}

func (c *Config) Validate() error {
	if !constants.IsValidStorageDriver(c.StorageDriver) {
		return errors.Join(ErrInvalidConfig, errors.New("STORAGE_DRIVER must be memory, redis or postgres"))
	}
	if c.RateLimitDriver != "memory" && c.RateLimitDriver != "redis" {
		return errors.Join(ErrInvalidConfig, errors.New("RATE_LIMIT_DRIVER must be memory or redis"))
	}
	if c.BackendBaseURL == "" {
		return errors.Join(ErrInvalidConfig, errors.New("BACKEND_BASE_URL is required"))
	}
	if c.DebounceDelay < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("DEBOUNCE_DELAY must not be negative"))
	}
	return nil
}

// Brokers KAFKA_BROKERS 以逗號分隔，空字串表示不啟用 kafka
func (c *Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (c *Config) IsProd() bool {
	return c.Env == string(constants.Prod)
}

func configPath() string {
	if p := os.Getenv(ConfigPathEnv); p != "" {
		return p
	}
	return ".env"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
