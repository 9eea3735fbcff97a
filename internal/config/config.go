// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string                 `yaml:"env" env-default:"local"`
	StorageConnectionString string                 `yaml:"storage_connection_string" env:"DATABASE_URL"`
	MigrationsPath          string                 `yaml:"migrations_path" env-default:"./migrations"`
	AdminEmail              string                 `yaml:"admin_email" env-default:"admin@crispai.com"`
	TrialPeriod             time.Duration          `yaml:"trial_period" env-default:"168h"`
	CartTTL                 time.Duration          `yaml:"cart_ttl" env-default:"720h"`
	Agents                  map[string]AgentConfig `yaml:"agents"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	Stripe                  `yaml:"stripe"`
	RabbitMQ                `yaml:"rabbitmq"`
	Reconciler              `yaml:"reconciler"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// JWTToken структура для работы с jwt-токеном
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// Stripe настройки платёжного провайдера
type Stripe struct {
	SecretKey       string        `yaml:"secret_key" env:"STRIPE_SECRET_KEY"`
	WebhookSecret   string        `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET"`
	Currency        string        `yaml:"currency" env-default:"usd"`
	Timeout         time.Duration `yaml:"timeout" env-default:"20s"`
	TrialPeriodDays int64         `yaml:"trial_period_days" env-default:"7"`
	DaysUntilDue    int64         `yaml:"days_until_due" env-default:"30"`
}

// RabbitMQ настройки брокера для задач сверки счетов
type RabbitMQ struct {
	URL        string        `yaml:"url" env:"RABBITMQ_URL"`
	Retries    int           `yaml:"retries" env-default:"5"`
	RetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
	Workers    int           `yaml:"workers" env-default:"10"`
}

// Reconciler настройки воркера сверки
type Reconciler struct {
	MetricsAddress string        `yaml:"metrics_address" env-default:":9091"`
	SweepInterval  time.Duration `yaml:"sweep_interval" env-default:"10m"`
	SweepMinAge    time.Duration `yaml:"sweep_min_age" env-default:"15m"`
	SweepBatchSize int           `yaml:"sweep_batch_size" env-default:"100"`
}

// AgentConfig внешние параметры агента: адрес запуска и цена у провайдера
type AgentConfig struct {
	LaunchURL string `yaml:"launch_url"`
	PriceID   string `yaml:"price_id"`
}

// MustLoad функция для загрузки конфига по пути из CONFIG_PATH
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return &cfg
}

// String возвращает конфиг без секретов, пригодный для логирования.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"AdminEmail: %s\n"+
			"TrialPeriod: %s\n"+
			"CartTTL: %s\n"+
			"Agents: %d\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"JWTToken:\n"+
			"  TokenTTL: %s\n"+
			"Stripe:\n"+
			"  Currency: %s\n"+
			"  Timeout: %s\n",
		c.Env,
		c.AdminEmail,
		c.TrialPeriod,
		c.CartTTL,
		len(c.Agents),
		c.AddressRedis,
		c.DB,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		c.TokenTTL,
		c.Currency,
		c.Stripe.Timeout,
	)
}
