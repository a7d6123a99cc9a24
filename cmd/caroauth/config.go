package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/caroauth/internal/logger"
	"github.com/nkiryanov/caroauth/internal/service/auth/tokenmanager"
)

const (
	defaultListenAddr       = "localhost:8000"
	defaultLoggingLevel     = logger.LevelInfo
	defaultEnvironment      = logger.EnvProduction
	defaultAccessTTLMinutes = 15
	defaultRefreshTTLDays   = 30
	defaultSweepInterval    = 10 * time.Minute
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to. Users are always stored there
	DatabaseDSN string

	// Redis to keep refresh tokens in, e.g. 'redis://localhost:6379/0'
	// If empty refresh tokens are kept in the database
	RedisURL string

	// Secret key to sign JWT tokens
	SecretKey string

	// Value of 'iss' claim
	Issuer string

	AccessTTLMinutes int
	RefreshTTLDays   int

	// How often expired refresh tokens are removed. Zero disables sweeping
	SweepInterval time.Duration

	// Cross-origin host patterns allowed to open signaling websocket
	WSAllowedOrigins []string

	// Environment
	Environment string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:         defaultLoggingLevel,
		ListenAddr:       defaultListenAddr,
		Issuer:           tokenmanager.DefaultIssuer,
		AccessTTLMinutes: defaultAccessTTLMinutes,
		RefreshTTLDays:   defaultRefreshTTLDays,
		SweepInterval:    defaultSweepInterval,
		Environment:      defaultEnvironment,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			v, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = v
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			v, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = v
			return nil
		}
	}
	setList := func(o *[]string) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			*o = nil
			for _, item := range strings.Split(value, ",") {
				if item = strings.TrimSpace(item); item != "" {
					*o = append(*o, item)
				}
			}
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":        setString(&c.ListenAddr),
		"DATABASE_URI":       setString(&c.DatabaseDSN),
		"REDIS_URL":          setString(&c.RedisURL),
		"SECRET_KEY":         setString(&c.SecretKey),
		"JWT_ISSUER":         setString(&c.Issuer),
		"ACCESS_TTL_MINUTES": setInt(&c.AccessTTLMinutes),
		"REFRESH_TTL_DAYS":   setInt(&c.RefreshTTLDays),
		"SWEEP_INTERVAL":     setDuration(&c.SweepInterval),
		"WS_ALLOWED_ORIGINS": setList(&c.WSAllowedOrigins),
		"LOG_LEVEL":          setString(&c.LogLevel),
		"ENVIRONMENT":        setString(&c.Environment),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("caroauth", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.RedisURL, "redis", "r", c.RedisURL, "Redis URL to keep refresh tokens in")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key to sign tokens")
	fs.StringVar(&c.Issuer, "issuer", c.Issuer, "JWT issuer")
	fs.IntVar(&c.AccessTTLMinutes, "access-ttl-minutes", c.AccessTTLMinutes, "Access token lifetime in minutes")
	fs.IntVar(&c.RefreshTTLDays, "refresh-ttl-days", c.RefreshTTLDays, "Refresh token lifetime in days")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "Expired refresh tokens sweep interval, 0 disables it")
	fs.StringSliceVar(&c.WSAllowedOrigins, "ws-origins", c.WSAllowedOrigins, "Cross-origin host patterns allowed to open signaling websocket")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (development, production)")

	return fs.Parse(args)
}

func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database DSN is required"))
	}
	if c.SecretKey == "" {
		errs = append(errs, errors.New("secret key is required"))
	}
	if c.AccessTTLMinutes <= 0 {
		errs = append(errs, errors.New("access token TTL must be positive"))
	}
	if c.RefreshTTLDays <= 0 {
		errs = append(errs, errors.New("refresh token TTL must be positive"))
	}

	return errors.Join(errs...)
}

func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.AccessTTLMinutes) * time.Minute
}

func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTTLDays) * 24 * time.Hour
}
