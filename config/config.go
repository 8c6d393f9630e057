// Package config loads the server configuration from flags, environment
// variables and an optional config file through viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Keys understood by Load. Environment variables use the upper-case form
// (PORT, REDIS_ADDR, JWT_SECRET_KEY, ...).
const (
	KeyPort            = "port"
	KeyStaticDir       = "static_dir"
	KeyLogLevel        = "log_level"
	KeyLogFormat       = "log_format"
	KeyShutdownTimeout = "shutdown_timeout"

	KeyStateBackend  = "state_backend"
	KeyFanoutBackend = "fanout_backend"
	KeyFanoutSubject = "fanout_subject"
	KeyRedisAddr     = "redis_addr"
	KeyRedisPassword = "redis_password"
	KeyRedisDB       = "redis_db"
	KeyNATSURL       = "nats_url"

	KeyDBPath        = "db_path"
	KeyJWTSecretKey  = "jwt_secret_key"
	KeyJWTIssuer     = "jwt_issuer"
	KeySessionTTL    = "session_ttl"
	KeyBcryptCost    = "bcrypt_cost"
	KeyAdminUsers    = "admin_users"
	KeyLookupTTL     = "avatar_lookup_ttl"
	KeyCookieSecure  = "cookie_secure"
	KeyAllowOrigins  = "allow_origins"
	KeyLoginLimit    = "login_per_minute"
	KeyMessageRate   = "ws_message_rate"
	KeyMessageBurst  = "ws_message_burst"
	KeyJetStreamDir  = "jetstream_dir"
	KeyAvatarStorage = "avatar_storage"
	KeyStaleSweep    = "stale_sweep_interval"
)

// DevelopmentSecret is the JWT secret used when none is configured.
const DevelopmentSecret = "change-me"

var (
	logLevels      = []string{"debug", "info", "warn", "error"}
	logFormats     = []string{"text", "json"}
	stateBackends  = []string{"memory", "redis"}
	fanoutBackends = []string{"eventbus", "redis", "nats"}
	avatarStorages = []string{"file", "memory"}
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete server configuration.
type Config struct {
	Port            int
	StaticDir       string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	StateBackend  string
	FanoutBackend string
	FanoutSubject string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string

	DBPath         string
	JWTSecretKey   string
	JWTIssuer      string
	SessionTTL     time.Duration
	BcryptCost     int
	AdminUsers     []string
	LookupCacheTTL time.Duration

	CookieSecure   bool
	AllowOrigins   string
	LoginPerMinute int
	MessageRate    float64
	MessageBurst   int

	JetStreamDir  string
	AvatarStorage string

	// StaleSweepInterval is how often connections left behind by stopped
	// relay processes are pruned.
	StaleSweepInterval time.Duration
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyPort, 3000)
	v.SetDefault(KeyStaticDir, "static")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyShutdownTimeout, 30*time.Second)

	v.SetDefault(KeyStateBackend, "memory")
	v.SetDefault(KeyFanoutBackend, "eventbus")
	v.SetDefault(KeyFanoutSubject, "tchat.deliveries")
	v.SetDefault(KeyRedisAddr, "localhost:6379")
	v.SetDefault(KeyRedisPassword, "")
	v.SetDefault(KeyRedisDB, 0)
	v.SetDefault(KeyNATSURL, "")

	v.SetDefault(KeyDBPath, "tchat.db")
	v.SetDefault(KeyJWTSecretKey, DevelopmentSecret)
	v.SetDefault(KeyJWTIssuer, "tchat")
	v.SetDefault(KeySessionTTL, 7*24*time.Hour)
	v.SetDefault(KeyBcryptCost, 12)
	v.SetDefault(KeyAdminUsers, []string{})
	v.SetDefault(KeyLookupTTL, 30*time.Second)

	v.SetDefault(KeyCookieSecure, false)
	v.SetDefault(KeyAllowOrigins, "*")
	v.SetDefault(KeyLoginLimit, 10)
	v.SetDefault(KeyMessageRate, 20.0)
	v.SetDefault(KeyMessageBurst, 40)

	v.SetDefault(KeyJetStreamDir, "/tmp/tchat-jetstream")
	v.SetDefault(KeyAvatarStorage, "file")
	v.SetDefault(KeyStaleSweep, 15*time.Second)
}

// NewViper returns a viper instance with the defaults registered and
// environment variables bound.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration from v, which should already have its
// defaults, flags and environment bound, and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:            v.GetInt(KeyPort),
		StaticDir:       v.GetString(KeyStaticDir),
		LogLevel:        strings.ToLower(v.GetString(KeyLogLevel)),
		LogFormat:       strings.ToLower(v.GetString(KeyLogFormat)),
		ShutdownTimeout: v.GetDuration(KeyShutdownTimeout),

		StateBackend:  strings.ToLower(v.GetString(KeyStateBackend)),
		FanoutBackend: strings.ToLower(v.GetString(KeyFanoutBackend)),
		FanoutSubject: v.GetString(KeyFanoutSubject),
		RedisAddr:     v.GetString(KeyRedisAddr),
		RedisPassword: v.GetString(KeyRedisPassword),
		RedisDB:       v.GetInt(KeyRedisDB),
		NATSURL:       v.GetString(KeyNATSURL),

		DBPath:         v.GetString(KeyDBPath),
		JWTSecretKey:   v.GetString(KeyJWTSecretKey),
		JWTIssuer:      v.GetString(KeyJWTIssuer),
		SessionTTL:     v.GetDuration(KeySessionTTL),
		BcryptCost:     v.GetInt(KeyBcryptCost),
		AdminUsers:     splitList(v.GetStringSlice(KeyAdminUsers)),
		LookupCacheTTL: v.GetDuration(KeyLookupTTL),

		CookieSecure:   v.GetBool(KeyCookieSecure),
		AllowOrigins:   v.GetString(KeyAllowOrigins),
		LoginPerMinute: v.GetInt(KeyLoginLimit),
		MessageRate:    v.GetFloat64(KeyMessageRate),
		MessageBurst:   v.GetInt(KeyMessageBurst),

		JetStreamDir:  v.GetString(KeyJetStreamDir),
		AvatarStorage: strings.ToLower(v.GetString(KeyAvatarStorage)),

		StaleSweepInterval: v.GetDuration(KeyStaleSweep),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Port)
	case !oneOf(c.LogLevel, logLevels):
		return fmt.Errorf("%w: log_level %q (want one of %s)", ErrInvalid, c.LogLevel, strings.Join(logLevels, ", "))
	case !oneOf(c.LogFormat, logFormats):
		return fmt.Errorf("%w: log_format %q (want one of %s)", ErrInvalid, c.LogFormat, strings.Join(logFormats, ", "))
	case !oneOf(c.StateBackend, stateBackends):
		return fmt.Errorf("%w: state_backend %q (want one of %s)", ErrInvalid, c.StateBackend, strings.Join(stateBackends, ", "))
	case !oneOf(c.FanoutBackend, fanoutBackends):
		return fmt.Errorf("%w: fanout_backend %q (want one of %s)", ErrInvalid, c.FanoutBackend, strings.Join(fanoutBackends, ", "))
	case !oneOf(c.AvatarStorage, avatarStorages):
		return fmt.Errorf("%w: avatar_storage %q (want one of %s)", ErrInvalid, c.AvatarStorage, strings.Join(avatarStorages, ", "))
	case c.FanoutBackend == "nats" && c.NATSURL == "":
		return fmt.Errorf("%w: nats_url is required for the nats fan-out backend", ErrInvalid)
	case (c.StateBackend == "redis" || c.FanoutBackend == "redis") && c.RedisAddr == "":
		return fmt.Errorf("%w: redis_addr is required for redis backends", ErrInvalid)
	case c.FanoutBackend != "eventbus" && c.StateBackend == "memory":
		return fmt.Errorf("%w: fan-out across processes needs the shared redis state backend", ErrInvalid)
	case c.JWTSecretKey == "":
		return fmt.Errorf("%w: jwt_secret_key must not be empty", ErrInvalid)
	case c.SessionTTL <= 0:
		return fmt.Errorf("%w: session_ttl must be positive", ErrInvalid)
	case c.DBPath == "":
		return fmt.Errorf("%w: db_path must not be empty", ErrInvalid)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: shutdown_timeout must be positive", ErrInvalid)
	case c.StaleSweepInterval <= 0:
		return fmt.Errorf("%w: stale_sweep_interval must be positive", ErrInvalid)
	}
	return nil
}

// UsesRedis reports whether any component talks to Redis.
func (c Config) UsesRedis() bool {
	return c.StateBackend == "redis" || c.FanoutBackend == "redis"
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// splitList accepts both list values and a single comma separated string,
// which is what environment variables provide.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
