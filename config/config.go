package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost         string `envconfig:"DB_HOST" required:"true"`
	DBPort         int    `envconfig:"DB_PORT" default:"5432"`
	DBUser         string `envconfig:"DB_USER" required:"true"`
	DBPassword     string `envconfig:"DB_PASSWORD" required:"true"`
	DBName         string `envconfig:"DB_NAME" required:"true"`
	DBSSLMode      string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxOpenConns int    `envconfig:"DB_MAX_OPEN_CONNS" default:"10"`
	DBMaxIdleConns int    `envconfig:"DB_MAX_IDLE_CONNS" default:"2"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 */6 * * *"`

	// Embedding-Modell (text-embeddings-inference kompatibel)
	EmbeddingURL     string `envconfig:"EMBEDDING_URL" default:"http://localhost:8080"`
	EmbeddingDim     int    `envconfig:"EMBEDDING_DIM" default:"384"`
	EmbedBatchSize   int    `envconfig:"EMBED_BATCH_SIZE" default:"8"`
	EmbedUploadEvery int    `envconfig:"EMBED_UPLOAD_EVERY" default:"80"`

	ArxivBaseURL    string        `envconfig:"ARXIV_BASE_URL" default:"https://export.arxiv.org/api/query"`
	ArxivChunkSize  int           `envconfig:"ARXIV_CHUNK_SIZE" default:"100"`
	ArxivMaxWorkers int           `envconfig:"ARXIV_MAX_WORKERS" default:"1"`
	ArxivBaseDelay  time.Duration `envconfig:"ARXIV_BASE_DELAY" default:"3s"`

	HNewsBaseURL    string `envconfig:"HNEWS_BASE_URL" default:"https://hn.algolia.com/api/v1"`
	HNewsMaxResults int    `envconfig:"HNEWS_MAX_RESULTS" default:"1100"`

	TwitterBaseURL     string `envconfig:"TWITTER_BASE_URL" default:"https://api.twitter.com/2"`
	TwitterBearerToken string `envconfig:"TWITTER_BEARER_TOKEN"`
	TwitterMaxPages    int    `envconfig:"TWITTER_MAX_PAGES" default:"20"`

	// Quellen, die die Pipeline abfragt
	EnabledSources string `envconfig:"ENABLED_SOURCES" default:"hnews"`

	StageBatchSize    int           `envconfig:"STAGE_BATCH_SIZE" default:"500"`
	SearchMaxAttempts int           `envconfig:"SEARCH_MAX_ATTEMPTS" default:"6"`
	SearchRetryDelay  time.Duration `envconfig:"SEARCH_RETRY_DELAY" default:"200ms"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"5m"`

	// Optionales Rohdaten-Archiv; leer = deaktiviert
	S3URL    string `envconfig:"S3_URL"`
	S3Region string `envconfig:"S3_REGION" default:"eu-central-1"`
	S3Key    string `envconfig:"S3_KEY"`
	S3Secret string `envconfig:"S3_SECRET"`
	S3Bucket string `envconfig:"S3_BUCKET"`

	BackupBucket string `envconfig:"BACKUP_S3_BUCKET"`
	KeepBackups  int    `envconfig:"KEEP_BACKUPS" default:"4"`

	// Optionaler Such-Cache; leer = deaktiviert
	RedisURL       string        `envconfig:"REDIS_URL"`
	SearchCacheTTL time.Duration `envconfig:"SEARCH_CACHE_TTL" default:"10m"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

// Sources gibt die aktivierten Mention-Quellen zurück.
func (c *Config) Sources() []string {
	var out []string
	for _, s := range strings.Split(c.EnabledSources, ",") {
		if s = strings.TrimSpace(strings.ToLower(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ArchiveEnabled meldet, ob ein S3-Ziel konfiguriert ist.
func (c *Config) ArchiveEnabled() bool {
	return c.S3URL != "" && c.S3Bucket != ""
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
