// Package config загружает настройки omnipost из окружения.
//
// При импорте пакета подгружаются .env и .env.local (если есть).
// Уже заданные переменные окружения не переопределяются.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

func init() {
	for _, file := range []string{".env", ".env.local"} {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", file, err)
		}
	}
}

// Config — настройки всех бинарников.
type Config struct {
	// Env — окружение (dev, prod).
	Env string

	// DatabaseURL — строка подключения к PostgreSQL (DB_URL).
	// Пустая — хранилища в памяти.
	DatabaseURL string

	// RabbitMQURL — брокер очереди шагов (RABBITMQ_URL).
	// Пустой — локальная очередь в памяти процесса.
	RabbitMQURL string

	// RedisURL — распределённая блокировка постов (REDIS_URL).
	// Пустой — блокировка внутри процесса.
	RedisURL string

	// NATSURL — рассылка уведомлений (NATS_URL, опционально).
	NATSURL string

	// S3 — объектное хранилище для медиа.
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	// BucketURL — публичный префикс URL загруженных объектов (BUCKET_URL).
	BucketURL string

	// StepDelay — интервал между шагами action.
	StepDelay time.Duration

	// HTTPTimeout — таймаут одного запроса к платформе.
	HTTPTimeout time.Duration

	// WorkerConcurrency — размер пула исполнителей.
	WorkerConcurrency int

	// MaxDeferrals — сколько раз шаг может ждать предыдущий.
	MaxDeferrals int

	// StrictTemplates — ошибка на неподставленный плейсхолдер.
	StrictTemplates bool

	// DelimitedTemplates — подставлять только {{KEY}}.
	DelimitedTemplates bool

	// SchedulerSpec — расписание тиков scheduler (cron или @every).
	SchedulerSpec string

	// MetricsPort — порт /healthz и /metrics.
	MetricsPort string

	// Tracing — включить экспорт спанов в stdout.
	Tracing bool
}

// Значения по умолчанию.
const (
	defaultEnv               = "dev"
	defaultS3Region          = "us-east-1"
	defaultStepDelay         = 5 * time.Second
	defaultHTTPTimeout       = 30 * time.Second
	defaultWorkerConcurrency = 4
	defaultMaxDeferrals      = 10
	defaultSchedulerSpec     = "@every 10s"
	defaultMetricsPort       = "8081"
)

// Load читает окружение и проверяет значения.
func Load() (Config, error) {
	cfg := Config{
		Env:           getEnv("OMNIPOST_ENV", defaultEnv),
		DatabaseURL:   os.Getenv("DB_URL"),
		RabbitMQURL:   os.Getenv("RABBITMQ_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		NATSURL:       os.Getenv("NATS_URL"),
		S3Endpoint:    os.Getenv("OMNIPOST_S3_ENDPOINT"),
		S3Region:      getEnv("OMNIPOST_S3_REGION", defaultS3Region),
		S3Bucket:      os.Getenv("OMNIPOST_S3_BUCKET"),
		S3AccessKey:   os.Getenv("OMNIPOST_S3_ACCESS_KEY"),
		S3SecretKey:   os.Getenv("OMNIPOST_S3_SECRET_KEY"),
		BucketURL:     os.Getenv("BUCKET_URL"),
		SchedulerSpec: getEnv("OMNIPOST_SCHEDULER_SPEC", defaultSchedulerSpec),
		MetricsPort:   getEnv("OMNIPOST_METRICS_PORT", defaultMetricsPort),
	}

	var err error
	if cfg.StepDelay, err = getDuration("OMNIPOST_STEP_DELAY", defaultStepDelay); err != nil {
		return cfg, err
	}
	if cfg.HTTPTimeout, err = getDuration("OMNIPOST_HTTP_TIMEOUT", defaultHTTPTimeout); err != nil {
		return cfg, err
	}
	if cfg.WorkerConcurrency, err = getInt("OMNIPOST_WORKER_CONCURRENCY", defaultWorkerConcurrency); err != nil {
		return cfg, err
	}
	if cfg.MaxDeferrals, err = getInt("OMNIPOST_MAX_DEFERRALS", defaultMaxDeferrals); err != nil {
		return cfg, err
	}

	cfg.StrictTemplates = parseBool(os.Getenv("OMNIPOST_STRICT_TEMPLATES"))
	cfg.DelimitedTemplates = parseBool(os.Getenv("OMNIPOST_DELIMITED_TEMPLATES"))
	cfg.Tracing = parseBool(os.Getenv("OMNIPOST_TRACING"))

	if cfg.S3Bucket != "" && cfg.BucketURL == "" {
		return cfg, fmt.Errorf("BUCKET_URL is required when OMNIPOST_S3_BUCKET is set")
	}

	return cfg, nil
}

// MediaEnabled возвращает true, если настроено хранилище медиа.
func (c Config) MediaEnabled() bool {
	return c.S3Bucket != ""
}

// getEnv возвращает значение переменной или fallback, если она пуста.
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s: invalid positive integer %q", key, v)
	}
	return n, nil
}

// parseBool разбирает булево значение; ошибка разбора — false.
func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
