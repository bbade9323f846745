package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is constructed once at startup and injected into every service.
// Nothing reads viper after Load returns.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Vesting  VestingConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host             string
	Port             string
	User             string
	Password         string
	Name             string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	StatementTimeout time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey string
}

type VestingConfig struct {
	Cron            string
	Currency        string
	BatchSize       int
	StrictReconcile bool
	Days            int
}

// Load reads .env plus process environment into a Config.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig() // missing .env is fine; env vars still apply

	viper.BindEnv("server.port", "PORT")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	viper.BindEnv("vesting.cron", "VESTING_CRON")
	viper.BindEnv("vesting.currency", "VESTING_CURRENCY")
	viper.BindEnv("vesting.batch_size", "VESTING_BATCH_SIZE")
	viper.BindEnv("vesting.strict_reconcile", "VESTING_STRICT_RECONCILE")
	viper.BindEnv("vesting.days", "VESTING_DAYS")

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 15*time.Second)
	viper.SetDefault("server.idle_timeout", 60*time.Second)
	viper.SetDefault("server.shutdown_timeout", 30*time.Second)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "wafra")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	// A stuck lock holder must not queue investors forever.
	viper.SetDefault("database.statement_timeout", 30*time.Second)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("vesting.cron", "0 2 * * *")
	viper.SetDefault("vesting.currency", "AED")
	viper.SetDefault("vesting.batch_size", 100)
	viper.SetDefault("vesting.strict_reconcile", false)
	viper.SetDefault("vesting.days", 365)

	cfg := &Config{
		Server: ServerConfig{
			Port:            viper.GetString("server.port"),
			ReadTimeout:     viper.GetDuration("server.read_timeout"),
			WriteTimeout:    viper.GetDuration("server.write_timeout"),
			IdleTimeout:     viper.GetDuration("server.idle_timeout"),
			ShutdownTimeout: viper.GetDuration("server.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			Host:             viper.GetString("database.host"),
			Port:             viper.GetString("database.port"),
			User:             viper.GetString("database.user"),
			Password:         viper.GetString("database.password"),
			Name:             viper.GetString("database.name"),
			SSLMode:          viper.GetString("database.ssl_mode"),
			MaxOpenConns:     viper.GetInt("database.max_open_conns"),
			MaxIdleConns:     viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime:  viper.GetDuration("database.conn_max_lifetime"),
			StatementTimeout: viper.GetDuration("database.statement_timeout"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetString("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			SecretKey: viper.GetString("jwt.secret_key"),
		},
		Vesting: VestingConfig{
			Cron:            viper.GetString("vesting.cron"),
			Currency:        viper.GetString("vesting.currency"),
			BatchSize:       viper.GetInt("vesting.batch_size"),
			StrictReconcile: viper.GetBool("vesting.strict_reconcile"),
			Days:            viper.GetInt("vesting.days"),
		},
	}
	return cfg, nil
}
