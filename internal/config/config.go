package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	MailTransportSMTP     = "smtp"
	MailTransportRabbitMQ = "rabbitmq"
)

type Config struct {
	Env        string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Storage    string `yaml:"storage" env:"STORAGE" env-default:"postgres"`
	HTTPServer `yaml:"http_server"`
	Postgres   `yaml:"postgres"`
	Tokens     `yaml:"tokens"`
	Password   `yaml:"password"`
	Mail       `yaml:"mail"`
	RabbitMQ   `yaml:"rabbitmq"`
	Redis      `yaml:"redis"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env:"HTTP_TIMEOUT" env-default:"15s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`

	// PublicURL is the externally reachable base of the service, used to
	// build the links put into emails.
	PublicURL          string   `yaml:"public_url" env:"PUBLIC_URL" env-default:"http://localhost:8080"`
	DocsURL            string   `yaml:"docs_url" env:"DOCS_URL"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-default:"*"`
}

type Postgres struct {
	URL               string        `yaml:"url" env:"DATABASE_URL"`
	Host              string        `yaml:"host" env:"POSTGRES_HOST" env-default:"postgres"`
	Port              int           `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User              string        `yaml:"user" env:"POSTGRES_USER"`
	Password          string        `yaml:"password" env:"POSTGRES_PASSWORD"`
	DBName            string        `yaml:"dbname" env:"POSTGRES_DB"`
	SSLMode           string        `yaml:"sslmode" env:"POSTGRES_SSLMODE" env-default:"disable"`
	MaxConns          int32         `yaml:"max_conns" env-default:"15"`
	MinConns          int32         `yaml:"min_conns" env-default:"5"`
	ConnectRetries    uint64        `yaml:"connect_retries" env-default:"5"`
	ConnectRetryDelay time.Duration `yaml:"connect_retry_delay" env-default:"5s"`
	QueryRetries      uint64        `yaml:"query_retries" env-default:"2"`
	QueryRetryDelay   time.Duration `yaml:"query_retry_delay" env-default:"100ms"`
	AutoMigrate       bool          `yaml:"auto_migrate" env:"POSTGRES_AUTO_MIGRATE" env-default:"true"`
}

type Tokens struct {
	SecretKey                       string `yaml:"secret_key" env:"SECRET_KEY" env-required:"true"`
	Algorithm                       string `yaml:"algorithm" env:"ALGORITHM" env-default:"HS256"`
	AccessTokenExpireMinutes        int    `yaml:"access_token_expire_minutes" env:"ACCESS_TOKEN_EXPIRE_MINUTES" env-default:"30"`
	PasswordResetTokenExpireMinutes int    `yaml:"password_reset_token_expire_minutes" env:"PASSWORD_RESET_TOKEN_EXPIRE_MINUTES" env-default:"30"`
}

type Password struct {
	BcryptCost int `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`
}

type Mail struct {
	Transport string `yaml:"transport" env:"MAIL_TRANSPORT" env-default:"smtp"`
	SMTPHost  string `yaml:"smtp_host" env:"SMTP_HOST" env-default:"smtp.gmail.com"`
	SMTPPort  int    `yaml:"smtp_port" env:"SMTP_PORT" env-default:"587"`
	SMTPUser  string `yaml:"smtp_user" env:"SMTP_USER"`
	SMTPPass  string `yaml:"smtp_password" env:"SMTP_PASSWORD"`
	FromEmail string `yaml:"from_email" env:"EMAILS_FROM_EMAIL"`
	FromName  string `yaml:"from_name" env:"EMAILS_FROM_NAME" env-default:"MSAT Manager"`
}

type RabbitMQ struct {
	URL       string `yaml:"url" env:"RABBITMQ_URL"`
	QueueName string `yaml:"queue_name" env:"RABBITMQ_QUEUE" env-default:"emails"`
}

// Redis is optional. With an empty Addr password-reset tokens stay valid
// until they expire; with a reachable Redis each one can be used once.
type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

func (t Tokens) AccessTokenTTL() time.Duration {
	return time.Duration(t.AccessTokenExpireMinutes) * time.Minute
}

func (t Tokens) ResetTokenTTL() time.Duration {
	return time.Duration(t.PasswordResetTokenExpireMinutes) * time.Minute
}

// DSN returns the connection string, preferring an explicit URL.
func (p Postgres) DSN() string {
	if p.URL != "" {
		return p.URL
	}

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host,
		p.Port,
		p.User,
		p.Password,
		p.DBName,
		p.SSLMode,
	)
}

// Load reads configPath when it exists and the environment otherwise;
// environment variables override values from the file.
func Load(configPath string) (*Config, error) {
	const op = "config.Load"

	var cfg Config

	if err := read(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &cfg, nil
}

// LoadPostgres reads only the postgres section, for tools that do not need
// the rest of the service configuration.
func LoadPostgres(configPath string) (*Postgres, error) {
	const op = "config.LoadPostgres"

	var cfg struct {
		Postgres Postgres `yaml:"postgres"`
	}

	if err := read(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &cfg.Postgres, nil
}

// MailSender is the configuration of the queue consumer that delivers the
// emails the service enqueues.
type MailSender struct {
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Mail     `yaml:"mail"`
	RabbitMQ `yaml:"rabbitmq"`
}

func LoadMailSender(configPath string) (*MailSender, error) {
	const op = "config.LoadMailSender"

	var cfg MailSender

	if err := read(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("%s: rabbitmq url is required", op)
	}

	return &cfg, nil
}

func read(configPath string, cfg any) error {
	if configPath == "" {
		return cleanenv.ReadEnv(cfg)
	}

	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("config file %s: %w", configPath, err)
	}

	return cleanenv.ReadConfig(configPath, cfg)
}

func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic("Failed to read config: " + err.Error())
	}

	return cfg
}

func (c *Config) validate() error {
	var errs []error

	switch c.Storage {
	case StorageMemory, StoragePostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown storage %q", c.Storage))
	}

	switch c.Mail.Transport {
	case MailTransportSMTP:
	case MailTransportRabbitMQ:
		if c.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("rabbitmq url is required for the rabbitmq mail transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mail transport %q", c.Mail.Transport))
	}

	if c.Tokens.SecretKey == "" {
		errs = append(errs, errors.New("token secret key is required"))
	}

	switch c.Tokens.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		errs = append(errs, fmt.Errorf("unsupported signing algorithm %q", c.Tokens.Algorithm))
	}
	if c.Tokens.AccessTokenExpireMinutes <= 0 {
		errs = append(errs, errors.New("access token lifetime must be positive"))
	}
	if c.Tokens.PasswordResetTokenExpireMinutes <= 0 {
		errs = append(errs, errors.New("password reset token lifetime must be positive"))
	}

	return errors.Join(errs...)
}
