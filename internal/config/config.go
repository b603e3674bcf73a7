// Package config loads the service configuration from the environment, with an
// optional YAML file underneath.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"anonfeedback-backend/internal/payment"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

type Config struct {
	Port    string
	BaseURL string

	LogLevel  string
	LogFormat string

	Store  StoreConfig
	Auth   AuthConfig
	Pay    PaymentConfig
	Notify NotifyConfig

	ShareComposeURL  string
	WalletConnectors []string
}

type StoreConfig struct {
	Driver        string
	Key           string
	FileDir       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MongoURI      string
	DBName        string
}

type AuthConfig struct {
	JWTSecret  string
	AttemptTTL time.Duration
}

type PaymentConfig struct {
	Driver        string
	Cost          string
	CostUnits     *big.Int
	Asset         payment.Asset
	Destination   common.Address
	RPCURL        string
	PollInterval  time.Duration
	Timeout       time.Duration
	WidgetAppID   string
	WebhookSecret string
}

type NotifyConfig struct {
	ResendAPIKey string
	FromEmail    string
	OwnerEmail   string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("BASE_URL", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORE_DRIVER", "file")
	v.SetDefault("STORE_KEY", "feedback_rounds")
	v.SetDefault("STORE_FILE_DIR", "data")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DB_NAME", "anonfeedback")

	v.SetDefault("ATTEMPT_TTL", "24h")

	v.SetDefault("PAYMENT_DRIVER", payment.WidgetName)
	v.SetDefault("FEEDBACK_COST", "1.00")
	v.SetDefault("TOKEN_DECIMALS", 6)
	v.SetDefault("CHAIN_ID", 8453)
	v.SetDefault("TOKEN_ADDRESS", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	v.SetDefault("PAYMENT_DESTINATION", "0x32e3C7fD24e175701A35c224f2238d18439C7dBC")
	v.SetDefault("RECEIPT_POLL_INTERVAL", "3s")
	v.SetDefault("RECEIPT_TIMEOUT", "10m")
	v.SetDefault("WIDGET_APP_ID", "pay-demo")

	v.SetDefault("SHARE_COMPOSE_URL", "https://warpcast.com/~/compose")
	v.SetDefault("WALLET_CONNECTORS", "injected,frame")
}

// Load reads CONFIG_FILE when set, then lets environment variables override
// every key. The result is validated before it is returned.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:      v.GetString("PORT"),
		BaseURL:   strings.TrimRight(v.GetString("BASE_URL"), "/"),
		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),
		Store: StoreConfig{
			Driver:        strings.ToLower(v.GetString("STORE_DRIVER")),
			Key:           v.GetString("STORE_KEY"),
			FileDir:       v.GetString("STORE_FILE_DIR"),
			RedisAddr:     v.GetString("REDIS_ADDR"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			MongoURI:      v.GetString("MONGODB_URI"),
			DBName:        v.GetString("DB_NAME"),
		},
		Auth: AuthConfig{
			JWTSecret:  v.GetString("JWT_SECRET"),
			AttemptTTL: v.GetDuration("ATTEMPT_TTL"),
		},
		Pay: PaymentConfig{
			Driver: strings.ToLower(v.GetString("PAYMENT_DRIVER")),
			Cost:   v.GetString("FEEDBACK_COST"),
			Asset: payment.Asset{
				ChainID:  v.GetInt64("CHAIN_ID"),
				Decimals: v.GetInt("TOKEN_DECIMALS"),
			},
			RPCURL:        v.GetString("RPC_URL"),
			PollInterval:  v.GetDuration("RECEIPT_POLL_INTERVAL"),
			Timeout:       v.GetDuration("RECEIPT_TIMEOUT"),
			WidgetAppID:   v.GetString("WIDGET_APP_ID"),
			WebhookSecret: v.GetString("WIDGET_WEBHOOK_SECRET"),
		},
		Notify: NotifyConfig{
			ResendAPIKey: v.GetString("RESEND_API_KEY"),
			FromEmail:    v.GetString("FROM_EMAIL"),
			OwnerEmail:   v.GetString("OWNER_EMAIL"),
		},
		ShareComposeURL:  v.GetString("SHARE_COMPOSE_URL"),
		WalletConnectors: splitList(v.GetString("WALLET_CONNECTORS")),
	}

	var errs []error
	if cfg.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}

	switch cfg.Store.Driver {
	case "memory", "file", "redis":
	case "mongo":
		if cfg.Store.MongoURI == "" {
			errs = append(errs, errors.New("MONGODB_URI is required for the mongo store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Store.Driver))
	}
	if cfg.Store.Key == "" {
		errs = append(errs, errors.New("STORE_KEY must not be empty"))
	}

	switch cfg.Pay.Driver {
	case payment.DirectName:
	case payment.WidgetName:
		if cfg.Pay.WebhookSecret == "" {
			errs = append(errs, errors.New("WIDGET_WEBHOOK_SECRET is required for the widget payment driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PAYMENT_DRIVER %q", cfg.Pay.Driver))
	}

	units, err := payment.ParseUnits(cfg.Pay.Cost, cfg.Pay.Asset.Decimals)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("FEEDBACK_COST: %w", err))
	case units.Sign() <= 0:
		errs = append(errs, errors.New("FEEDBACK_COST must be positive"))
	default:
		cfg.Pay.CostUnits = units
	}

	// Placeholder values such as "0xYourEscrowContractAddress" are rejected
	// here rather than discovered at payment time.
	if addr, err := parseAddress("PAYMENT_DESTINATION", v.GetString("PAYMENT_DESTINATION")); err != nil {
		errs = append(errs, err)
	} else {
		cfg.Pay.Destination = addr
	}
	if addr, err := parseAddress("TOKEN_ADDRESS", v.GetString("TOKEN_ADDRESS")); err != nil {
		errs = append(errs, err)
	} else {
		cfg.Pay.Asset.Token = addr
	}

	if len(cfg.WalletConnectors) == 0 {
		errs = append(errs, errors.New("WALLET_CONNECTORS must name at least one connector"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseAddress(key, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s %q is not a valid address", key, value)
	}
	addr := common.HexToAddress(value)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s must not be the zero address", key)
	}
	return addr, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
