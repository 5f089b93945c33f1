package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/princekumarofficial/transcode-service/internal/types/media"
)

type Config struct {
	Env         string        `yaml:"env" env:"ENV" env-default:"production"`
	LogLevel    string        `yaml:"log_level" env:"LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
	StatusAddr  string        `yaml:"status_addr" env:"STATUS_ADDR"`
	StatusToken string        `yaml:"status_token" env:"STATUS_TOKEN"`
	Supabase    Supabase      `yaml:"supabase"`
	Database    Database      `yaml:"database"`
	Encoder     Encoder       `yaml:"encoder"`
	S3          S3            `yaml:"s3"`
	Redis       Redis         `yaml:"redis"`
	Transcode   Transcode     `yaml:"transcode"`
	Tables      []media.Table `yaml:"tables" validate:"dive"`
}

type Supabase struct {
	URL            string `yaml:"url" env:"SUPABASE_URL" env-required:"true" validate:"required,url"`
	AnonKey        string `yaml:"anon_key" env:"SUPABASE_ANON_KEY" env-required:"true" validate:"required"`
	ServiceRoleKey string `yaml:"service_role_key" env:"SUPABASE_SERVICE_ROLE_KEY"`
}

// Database is an optional direct Postgres connection. When DSN is empty,
// rows are read and written through the Supabase REST interface.
type Database struct {
	DSN string `yaml:"dsn" env:"DATABASE_URL"`
}

type Encoder struct {
	Bin       string `yaml:"bin" env:"FFMPEG_BIN"`
	BundleDir string `yaml:"bundle_dir" env:"FFMPEG_BUNDLE_DIR"`
}

type S3 struct {
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID" validate:"required_with=Endpoint"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY" validate:"required_with=Endpoint"`
	Region          string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	UseSSL          bool   `yaml:"use_ssl" env:"S3_USE_SSL" env-default:"true"`
	PublicBaseURL   string `yaml:"public_base_url" env:"S3_PUBLIC_BASE_URL" validate:"omitempty,url"`
}

type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type Transcode struct {
	DestColumn       string        `yaml:"dest_column" env:"TRANSCODE_DEST_COLUMN" validate:"omitempty,sqlident"`
	OnlyTables       []string      `yaml:"only_tables" env:"TRANSCODE_TABLES"`
	ScratchDir       string        `yaml:"scratch_dir" env:"SCRATCH_DIR"`
	WorkerBatchSize  int           `yaml:"worker_batch_size" env:"WORKER_BATCH_SIZE" env-default:"10" validate:"min=1"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT" env-default:"10m" validate:"gt=0"`
	TranscodeTimeout time.Duration `yaml:"transcode_timeout" env:"TRANSCODE_TIMEOUT" env-default:"30m" validate:"gt=0"`
	UploadTimeout    time.Duration `yaml:"upload_timeout" env:"UPLOAD_TIMEOUT" env-default:"10m" validate:"gt=0"`
	DBTimeout        time.Duration `yaml:"db_timeout" env:"DB_TIMEOUT" env-default:"30s" validate:"gt=0"`
	StaleAfter       time.Duration `yaml:"stale_after" env:"STALE_AFTER" env-default:"1h" validate:"gt=0"`
}

var sqlIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DefaultTables are the media tables processed when the config names none
func DefaultTables() []media.Table {
	return []media.Table{
		{
			Name:             "booms",
			SourceColumn:     "original_url",
			RenditionColumns: []string{"video_url"},
			StatusColumn:     "transcode_status",
			ClaimedAtColumn:  "transcode_claimed_at",
		},
		{
			Name:             "videos",
			SourceColumn:     "original_url",
			RenditionColumns: []string{"mobile_url", "video_mobile_url", "mobile_video_url"},
			StatusColumn:     "transcode_status",
			ClaimedAtColumn:  "transcode_claimed_at",
		},
	}
}

// Load reads configuration from the environment and, when configPath (or
// CONFIG_PATH) names a file, from that file first.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	var cfg Config
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist at path: %s", configPath)
		}
		if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Tables) == 0 {
		c.Tables = DefaultTables()
	}
	if len(c.Transcode.OnlyTables) > 0 {
		keep := make(map[string]bool, len(c.Transcode.OnlyTables))
		for _, name := range c.Transcode.OnlyTables {
			keep[name] = true
		}
		var tables []media.Table
		for _, t := range c.Tables {
			if keep[t.Name] {
				tables = append(tables, t)
			}
		}
		c.Tables = tables
	}
	for i := range c.Tables {
		if c.Tables[i].SourceColumn == "" {
			c.Tables[i].SourceColumn = "original_url"
		}
	}
	if c.Transcode.ScratchDir == "" {
		c.Transcode.ScratchDir = filepath.Join(os.TempDir(), "transcode-scratch")
	}
}

// Validate checks field constraints, including SQL identifier shape for
// every table and column name.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.RegisterValidation("sqlident", func(fl validator.FieldLevel) bool {
		return sqlIdent.MatchString(fl.Field().String())
	}); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if len(c.Tables) == 0 {
		return fmt.Errorf("invalid config: no tables to process")
	}
	return nil
}

// ActiveKey is the credential used for reads, writes and uploads: the
// service role key when present, else the anon key.
func (c *Config) ActiveKey() string {
	if c.Supabase.ServiceRoleKey != "" {
		return c.Supabase.ServiceRoleKey
	}
	return c.Supabase.AnonKey
}
