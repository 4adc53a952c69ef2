package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "noorcart"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "NOORCART_DB_DSN"
	EnvDBHost = "NOORCART_DB_HOST"
	EnvDBUser = "NOORCART_DB_USER"
	EnvDBName = "NOORCART_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Poll         PollConfig
	Vault        VaultConfig
	CheckoutGW   CheckoutGWConfig
	KPay         KPayConfig
	Wallet       WalletConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"NOORCART_APP_ENV" required:"true"`
	Port         string `envconfig:"NOORCART_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"NOORCART_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"NOORCART_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"NOORCART_DB_DSN"`
	Driver string `envconfig:"NOORCART_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"NOORCART_DB_HOST"`
	LegacyPort     int    `envconfig:"NOORCART_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"NOORCART_DB_USER"`
	LegacyPassword string `envconfig:"NOORCART_DB_PASSWORD"`
	LegacyName     string `envconfig:"NOORCART_DB_NAME"`
	LegacySSLMode  string `envconfig:"NOORCART_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"NOORCART_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"NOORCART_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"NOORCART_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"NOORCART_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"NOORCART_REDIS_URL" required:"true"`
	Address      string        `envconfig:"NOORCART_REDIS_ADDR"`
	Password     string        `envconfig:"NOORCART_REDIS_PASSWORD"`
	DB           int           `envconfig:"NOORCART_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"NOORCART_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"NOORCART_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"NOORCART_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"NOORCART_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"NOORCART_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"NOORCART_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"NOORCART_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"NOORCART_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"NOORCART_AUTO_MIGRATE" default:"false"`
}

// PollConfig bounds the client-initiated status polling loop. The loop is a
// client-side timeout only; it never cancels the underlying payment.
type PollConfig struct {
	Attempts int           `envconfig:"NOORCART_PAYMENT_POLL_ATTEMPTS" default:"10"`
	Interval time.Duration `envconfig:"NOORCART_PAYMENT_POLL_INTERVAL" default:"3s"`
	// StaleAfter is the age past which an initiated session counts as stale
	// for the staleness gauge. Stale sessions are surfaced, never swept.
	StaleAfter    time.Duration `envconfig:"NOORCART_PAYMENT_STALE_AFTER" default:"30m"`
	StaleInterval time.Duration `envconfig:"NOORCART_PAYMENT_STALE_INTERVAL" default:"1m"`
}

type VaultConfig struct {
	// EncryptionSecret is the 32-byte master secret card tokens are sealed under.
	EncryptionSecret string `envconfig:"NOORCART_VAULT_ENCRYPTION_SECRET"`
}

// CheckoutGWConfig holds credentials for the hosted-invoice gateway.
type CheckoutGWConfig struct {
	AppID       string        `envconfig:"NOORCART_CHECKOUTGW_APP_ID"`
	Secret      string        `envconfig:"NOORCART_CHECKOUTGW_SECRET"`
	BaseURL     string        `envconfig:"NOORCART_CHECKOUTGW_BASE_URL"`
	ReturnURL   string        `envconfig:"NOORCART_CHECKOUTGW_RETURN_URL"`
	Currency    string        `envconfig:"NOORCART_CHECKOUTGW_CURRENCY" default:"KWD"`
	HTTPTimeout time.Duration `envconfig:"NOORCART_CHECKOUTGW_HTTP_TIMEOUT" default:"30s"`
}

// KPayConfig holds credentials for the hosted-page gateway. ResourceKey is the
// 32-byte secret the trandata payload is encrypted under.
type KPayConfig struct {
	TranportalID string        `envconfig:"NOORCART_KPAY_TRANPORTAL_ID"`
	ResourceKey  string        `envconfig:"NOORCART_KPAY_RESOURCE_KEY"`
	BaseURL      string        `envconfig:"NOORCART_KPAY_BASE_URL"`
	ReturnURL    string        `envconfig:"NOORCART_KPAY_RETURN_URL"`
	ErrorURL     string        `envconfig:"NOORCART_KPAY_ERROR_URL"`
	HTTPTimeout  time.Duration `envconfig:"NOORCART_KPAY_HTTP_TIMEOUT" default:"30s"`
}

// WalletConfig holds credentials for the in-app wallet SDK gateway.
type WalletConfig struct {
	MerchantID  string        `envconfig:"NOORCART_WALLET_MERCHANT_ID"`
	Secret      string        `envconfig:"NOORCART_WALLET_SECRET"`
	BaseURL     string        `envconfig:"NOORCART_WALLET_BASE_URL"`
	HTTPTimeout time.Duration `envconfig:"NOORCART_WALLET_HTTP_TIMEOUT" default:"30s"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
