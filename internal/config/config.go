// Package config defines the configuration contract and handles loading and
// validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeySessionDBURI    = "SESSION_DB_URI"
	KeySessionDBDriver = "SESSION_DB_DRIVER"
	KeyBotOwner        = "BOT_OWNER"
	KeyPairPhone       = "PAIR_PHONE"
	KeySudoJIDs        = "SUDO_JIDS"
	KeyMongoURI        = "MONGO_URI"
	KeyMongoDB         = "MONGO_DB"
	KeyRedisAddr       = "REDIS_ADDR"
	KeyAppEnv          = "APP_ENV"
	KeyLogLevel        = "LOG_LEVEL"
	KeyHTTPPort        = "HTTP_PORT"
	KeyWatchdogSecs    = "WATCHDOG_INTERVAL_SECONDS"
	KeyCooldownSecs    = "PROMOTE_COOLDOWN_SECONDS"
	KeyCommandPrefix   = "COMMAND_PREFIX"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Allowed whatsmeow session store drivers.
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	// Defaults for optional settings.
	DefaultAppEnv          = EnvProduction
	DefaultLogLevel        = "info"
	DefaultHTTPPort        = 8080
	DefaultSessionDBURI    = "file:wa_guard.db?_foreign_keys=on"
	DefaultSessionDBDriver = DriverSQLite
	DefaultWatchdogSecs    = 7
	DefaultCooldownSecs    = 12
	DefaultCommandPrefix   = "."

	// Recommended database names by environment.
	DefaultMongoDBProd = "wa_guard"
	DefaultMongoDBDev  = "wa_guard_dev"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyBotOwner,
		Example:     "923001234567",
		Required:    true,
		Description: "Owner phone number (digits) or full WhatsApp JID with owner privileges.",
	},
	{
		Key:         KeyPairPhone,
		Example:     "923001234567",
		Description: "Optional phone number for pair-code login; QR login is used when unset.",
	},
	{
		Key:         KeySudoJIDs,
		Example:     "923001112223,923004445556",
		Description: "Optional comma-separated numbers or JIDs with owner-level command access.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Required:    true,
		Description: "MongoDB connection string for the protection registry.",
	},
	{
		Key:         KeyMongoDB,
		Example:     DefaultMongoDBProd + " / " + DefaultMongoDBDev,
		Required:    true,
		Description: "MongoDB database name.",
		Notes:       "Recommended: production=" + DefaultMongoDBProd + ", development=" + DefaultMongoDBDev + ".",
	},
	{
		Key:         KeySessionDBURI,
		Example:     DefaultSessionDBURI,
		Default:     DefaultSessionDBURI,
		Description: "WhatsApp session store DSN (sqlite file or postgres URI).",
	},
	{
		Key:         KeySessionDBDriver,
		Example:     DriverSQLite + " / " + DriverPostgres,
		Default:     DefaultSessionDBDriver,
		Description: "WhatsApp session store driver.",
	},
	{
		Key:         KeyRedisAddr,
		Example:     "localhost:6379",
		Description: "Optional Redis address for the shared promote-cooldown gate; in-process gate when unset.",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health/diagnostics port.",
	},
	{
		Key:         KeyWatchdogSecs,
		Example:     strconv.Itoa(DefaultWatchdogSecs),
		Default:     strconv.Itoa(DefaultWatchdogSecs),
		Description: "Watchdog reconcile interval in seconds.",
	},
	{
		Key:         KeyCooldownSecs,
		Example:     strconv.Itoa(DefaultCooldownSecs),
		Default:     strconv.Itoa(DefaultCooldownSecs),
		Description: "Per-member promote cooldown window in seconds.",
	},
	{
		Key:         KeyCommandPrefix,
		Example:     DefaultCommandPrefix,
		Default:     DefaultCommandPrefix,
		Description: "Leading character that marks chat messages as commands.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	SessionDBURI     string
	SessionDBDriver  string
	BotOwner         string
	PairPhone        string
	SudoJIDs         []string
	MongoURI         string
	MongoDB          string
	RedisAddr        string
	AppEnv           string
	LogLevel         string
	HTTPPort         int
	WatchdogInterval time.Duration
	PromoteCooldown  time.Duration
	CommandPrefix    string
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:           firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		SessionDBURI:     firstNonEmpty(strings.TrimSpace(os.Getenv(KeySessionDBURI)), DefaultSessionDBURI),
		SessionDBDriver:  firstNonEmpty(normalizeEnv(os.Getenv(KeySessionDBDriver)), DefaultSessionDBDriver),
		BotOwner:         strings.TrimSpace(os.Getenv(KeyBotOwner)),
		PairPhone:        strings.TrimSpace(os.Getenv(KeyPairPhone)),
		SudoJIDs:         splitList(os.Getenv(KeySudoJIDs)),
		MongoURI:         strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:          strings.TrimSpace(os.Getenv(KeyMongoDB)),
		RedisAddr:        strings.TrimSpace(os.Getenv(KeyRedisAddr)),
		LogLevel:         firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:         DefaultHTTPPort,
		WatchdogInterval: DefaultWatchdogSecs * time.Second,
		PromoteCooldown:  DefaultCooldownSecs * time.Second,
		CommandPrefix:    firstNonEmpty(strings.TrimSpace(os.Getenv(KeyCommandPrefix)), DefaultCommandPrefix),
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	if cfg.SessionDBDriver != DriverSQLite && cfg.SessionDBDriver != DriverPostgres {
		return Config{}, fmt.Errorf("invalid %s: must be %q or %q", KeySessionDBDriver, DriverSQLite, DriverPostgres)
	}

	missing := make([]string, 0)

	if cfg.BotOwner == "" {
		missing = append(missing, KeyBotOwner)
	}

	if cfg.MongoURI == "" {
		missing = append(missing, KeyMongoURI)
	}

	if cfg.MongoDB == "" {
		missing = append(missing, KeyMongoDB)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	httpPortRaw := strings.TrimSpace(os.Getenv(KeyHTTPPort))
	if httpPortRaw != "" {
		port, parseErr := strconv.Atoi(httpPortRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	watchdog, err := parseSeconds(KeyWatchdogSecs)
	if err != nil {
		return Config{}, err
	}
	if watchdog > 0 {
		cfg.WatchdogInterval = watchdog
	}

	cooldown, err := parseSeconds(KeyCooldownSecs)
	if err != nil {
		return Config{}, err
	}
	if cooldown > 0 {
		cfg.PromoteCooldown = cooldown
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// FormatRedacted renders the resolved configuration with connection strings
// masked, suitable for printing during startup checks.
func FormatRedacted(cfg Config) string {
	redisAddr := cfg.RedisAddr
	if redisAddr == "" {
		redisAddr = "(unset)"
	}

	pairPhone := "(unset)"
	if cfg.PairPhone != "" {
		pairPhone = redactTail(cfg.PairPhone)
	}

	lines := []string{
		KeyAppEnv + "=" + cfg.AppEnv,
		KeyBotOwner + "=" + redactTail(cfg.BotOwner),
		KeyPairPhone + "=" + pairPhone,
		KeyMongoURI + "=" + redactURI(cfg.MongoURI),
		KeyMongoDB + "=" + cfg.MongoDB,
		KeySessionDBDriver + "=" + cfg.SessionDBDriver,
		KeySessionDBURI + "=" + redactURI(cfg.SessionDBURI),
		KeyRedisAddr + "=" + redisAddr,
		KeyLogLevel + "=" + cfg.LogLevel,
		KeyHTTPPort + "=" + strconv.Itoa(cfg.HTTPPort),
		KeyWatchdogSecs + "=" + strconv.Itoa(int(cfg.WatchdogInterval/time.Second)),
		KeyCooldownSecs + "=" + strconv.Itoa(int(cfg.PromoteCooldown/time.Second)),
		KeyCommandPrefix + "=" + cfg.CommandPrefix,
	}

	return strings.Join(lines, "\n")
}

func parseSeconds(key string) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, nil
	}

	secs, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if secs <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}

	return time.Duration(secs) * time.Second, nil
}

func redactURI(uri string) string {
	if uri == "" {
		return ""
	}

	scheme := strings.Index(uri, "://")
	at := strings.LastIndex(uri, "@")
	if at > 0 && scheme > 0 && at > scheme {
		return uri[:scheme+3] + "***" + uri[at:]
	}

	return uri
}

func redactTail(value string) string {
	if len(value) <= 4 {
		return "***"
	}

	return "***" + value[len(value)-4:]
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
