package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"Europe/Moscow"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Telegram struct {
		Token      string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL string `envconfig:"TG_WEBHOOK_URL"`
		WebAppURL  string `envconfig:"WEB_APP_URL"`
	} `envconfig:""`

	API struct {
		CORSOrigins       []string `envconfig:"API_CORS_ORIGINS" default:"*"`
		ForwardToTelegram bool     `envconfig:"MINIAPP_FORWARD_TO_TELEGRAM" default:"true"`
		RequireInitData   bool     `envconfig:"API_REQUIRE_INIT_DATA" default:"false"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	AMQPURL string `envconfig:"AMQP_URL"`

	Queues struct {
		Notify string `envconfig:"NOTIFY_QUEUE_KEY" default:"notify_jobs"`
	} `envconfig:""`

	Uploads struct {
		Dir      string `envconfig:"UPLOADS_DIR" default:"uploads"`
		MaxBytes int64  `envconfig:"UPLOAD_MAX_BYTES" default:"10485760"`
	} `envconfig:""`

	InstructionsDir string `envconfig:"INSTRUCTIONS_DIR" default:"instructions"`

	LegacyDataDir string `envconfig:"LEGACY_DATA_DIR"`

	SLA struct {
		OverrideHours float64 `envconfig:"SLA_OVERRIDE_HOURS"`
	} `envconfig:""`

	Typing struct {
		TTL      time.Duration `envconfig:"TYPING_TTL" default:"4500ms"`
		Cooldown time.Duration `envconfig:"TYPING_COOLDOWN" default:"2s"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
