package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации всей платформы.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера консоли.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub сигналы и уведомления).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	// Ключ AES-256 для расшифровки токенов ботов (hex, 32 байта)
	EncryptionKey string `mapstructure:"encryption_key"`
	PublicKey     []byte
	PrivateKey    []byte
}

// EngineConfig — настройки оркестратора: период enforcement-тика
// и политика авто-рестартов.
type EngineConfig struct {
	TickPeriod       time.Duration `mapstructure:"tick_period"`
	TickParallelism  int           `mapstructure:"tick_parallelism"`
	RestartCooldown  time.Duration `mapstructure:"restart_cooldown"`
	RestartDelay     time.Duration `mapstructure:"restart_delay"`
	RestartPowerCost float64       `mapstructure:"restart_power_cost"`
	RestartTimeCost  int64         `mapstructure:"restart_time_cost"`
	AntiLoopLimit    int           `mapstructure:"anti_loop_limit"`

	// Размер буфера и период сброса журнала ошибок ботов
	LogBufferSize    int           `mapstructure:"log_buffer_size"`
	LogFlushInterval time.Duration `mapstructure:"log_flush_interval"`
}

// BackendConfig описывает исполнение юнитов: где лежит код ботов,
// чем их запускать и какие лимиты вешать на контейнеры.
type BackendConfig struct {
	BotsDir     string        `mapstructure:"bots_dir"`
	Interpreter string        `mapstructure:"interpreter"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`

	DockerHost    string `mapstructure:"docker_host"`
	Image         string `mapstructure:"image"`
	CPUMillicores int64  `mapstructure:"cpu_millicores"`
	MemoryLimitMB int64  `mapstructure:"memory_limit_mb"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
	File   string `mapstructure:"file"`   // опциональный файл с ротацией
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: ENGINE_TICK_PERIOD=10s перекроет engine.tick_period
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. PEM-ключи: либо напрямую из ENV (Docker/K8s), либо файлом по пути
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	// Политика enforcement и рестартов
	v.SetDefault("engine.tick_period", 30*time.Second)
	v.SetDefault("engine.tick_parallelism", 8)
	v.SetDefault("engine.restart_cooldown", 60*time.Second)
	v.SetDefault("engine.restart_delay", 3*time.Second)
	v.SetDefault("engine.restart_power_cost", 2.0)
	v.SetDefault("engine.restart_time_cost", 60)
	v.SetDefault("engine.anti_loop_limit", 5)
	v.SetDefault("engine.log_buffer_size", 10000)
	v.SetDefault("engine.log_flush_interval", 500*time.Millisecond)

	// Исполнение
	v.SetDefault("backend.bots_dir", "/neurohost/bots")
	v.SetDefault("backend.interpreter", "python3")
	v.SetDefault("backend.stop_timeout", 10*time.Second)
	v.SetDefault("backend.docker_host", "unix:///var/run/docker.sock")
	v.SetDefault("backend.image", "neurohost-user-bot:latest")
	v.SetDefault("backend.cpu_millicores", 500)
	v.SetDefault("backend.memory_limit_mb", 512)
}

// loadKeyResource — универсальный хелпер: ключ из ENV либо из файла
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
