package app

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"courier/cmd/internal/auth/token"
	"courier/cmd/internal/realtime"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreBadger   = "badger"
)

// Config contains all runtime configuration, loaded from the environment and an optional .env file.
type Config struct {
	HTTPAddr          string        `mapstructure:"COURIER_HTTP_ADDR" validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"COURIER_HTTP_READ_HEADER_TIMEOUT" validate:"gte=0"`
	ReadTimeout       time.Duration `mapstructure:"COURIER_HTTP_READ_TIMEOUT" validate:"gte=0"`
	WriteTimeout      time.Duration `mapstructure:"COURIER_HTTP_WRITE_TIMEOUT" validate:"gte=0"`
	IdleTimeout       time.Duration `mapstructure:"COURIER_HTTP_IDLE_TIMEOUT" validate:"gte=0"`
	MaxHeaderBytes    int           `mapstructure:"COURIER_HTTP_MAX_HEADER_BYTES" validate:"gte=0"`

	LogLevel  string `mapstructure:"COURIER_LOG_LEVEL"`
	LogFormat string `mapstructure:"COURIER_LOG_FORMAT" validate:"oneof=json pretty"`
	LogColor  bool   `mapstructure:"COURIER_LOG_COLOR"`

	Store         string        `mapstructure:"COURIER_STORE" validate:"oneof=memory postgres badger"`
	StoreTimeout  time.Duration `mapstructure:"COURIER_STORE_TIMEOUT" validate:"gt=0"`
	DatabaseURL   string        `mapstructure:"COURIER_DATABASE_URL" validate:"required_if=Store postgres"`
	DBMaxConns    int32         `mapstructure:"COURIER_DB_MAX_CONNS" validate:"gte=0"`
	DBMinConns    int32         `mapstructure:"COURIER_DB_MIN_CONNS" validate:"gte=0,ltefield=DBMaxConns"`
	DBPingTimeout time.Duration `mapstructure:"COURIER_DB_PING_TIMEOUT" validate:"gt=0"`
	AutoMigrate   bool          `mapstructure:"COURIER_DB_AUTO_MIGRATE"`
	BadgerPath    string        `mapstructure:"COURIER_BADGER_PATH" validate:"required_if=Store badger"`

	// ReadinessRequireDB makes /readyz fail unless the postgres store is configured and reachable.
	ReadinessRequireDB bool `mapstructure:"COURIER_READINESS_REQUIRE_DB"`

	JWTSecret    string        `mapstructure:"COURIER_JWT_SECRET" validate:"required,min=32"`
	JWTIssuer    string        `mapstructure:"COURIER_JWT_ISSUER" validate:"required"`
	JWTTTL       time.Duration `mapstructure:"COURIER_JWT_TTL" validate:"gt=0"`
	JWTClockSkew time.Duration `mapstructure:"COURIER_JWT_CLOCK_SKEW" validate:"gte=0"`

	WSDevInsecure       bool          `mapstructure:"COURIER_WS_DEV_INSECURE"`
	WSOriginRequired    bool          `mapstructure:"COURIER_WS_ORIGIN_REQUIRED"`
	WSAllowedOrigins    []string      `mapstructure:"COURIER_WS_ALLOWED_ORIGINS"`
	WSSendQueueSize     int           `mapstructure:"COURIER_WS_SEND_QUEUE" validate:"gte=0"`
	WSWriteTimeout      time.Duration `mapstructure:"COURIER_WS_WRITE_TIMEOUT" validate:"gte=0"`
	WSReadIdleTimeout   time.Duration `mapstructure:"COURIER_WS_READ_IDLE_TIMEOUT" validate:"gte=0"`
	WSHeartbeatInterval time.Duration `mapstructure:"COURIER_WS_HEARTBEAT_INTERVAL" validate:"gte=0"`
	WSHeartbeatTimeout  time.Duration `mapstructure:"COURIER_WS_HEARTBEAT_TIMEOUT" validate:"gte=0"`
	WSRateEvents        int           `mapstructure:"COURIER_WS_RATE_EVENTS" validate:"gte=0"`
	WSRateWindow        time.Duration `mapstructure:"COURIER_WS_RATE_WINDOW" validate:"gte=0"`
	MaxMessageChars     int           `mapstructure:"COURIER_MAX_MESSAGE_CHARS" validate:"min=1,max=5000"`
	SeenReceiptsOnRead  bool          `mapstructure:"COURIER_SEEN_RECEIPTS_ON_READ"`

	NATSURL           string `mapstructure:"COURIER_NATS_URL"`
	NATSSubjectPrefix string `mapstructure:"COURIER_NATS_SUBJECT_PREFIX"`

	// EventsLog logs every mirrored event at debug level.
	EventsLog bool `mapstructure:"COURIER_EVENTS_LOG"`

	OTLPEndpoint string `mapstructure:"COURIER_OTLP_ENDPOINT"`
	ServiceName  string `mapstructure:"COURIER_SERVICE_NAME" validate:"required"`
}

var configDefaults = map[string]any{
	"COURIER_HTTP_ADDR":                "0.0.0.0:8080",
	"COURIER_HTTP_READ_HEADER_TIMEOUT": 5 * time.Second,
	"COURIER_HTTP_READ_TIMEOUT":        15 * time.Second,
	"COURIER_HTTP_WRITE_TIMEOUT":       15 * time.Second,
	"COURIER_HTTP_IDLE_TIMEOUT":        60 * time.Second,
	"COURIER_HTTP_MAX_HEADER_BYTES":    1 << 20,

	"COURIER_LOG_LEVEL":  "info",
	"COURIER_LOG_FORMAT": "json",
	"COURIER_LOG_COLOR":  true,

	"COURIER_STORE":                StoreMemory,
	"COURIER_STORE_TIMEOUT":        5 * time.Second,
	"COURIER_DATABASE_URL":         "",
	"COURIER_DB_MAX_CONNS":         10,
	"COURIER_DB_MIN_CONNS":         0,
	"COURIER_DB_PING_TIMEOUT":      3 * time.Second,
	"COURIER_DB_AUTO_MIGRATE":      false,
	"COURIER_BADGER_PATH":          "./data/badger",
	"COURIER_READINESS_REQUIRE_DB": false,

	"COURIER_JWT_SECRET":     "",
	"COURIER_JWT_ISSUER":     "courier",
	"COURIER_JWT_TTL":        24 * time.Hour,
	"COURIER_JWT_CLOCK_SKEW": 30 * time.Second,

	"COURIER_WS_DEV_INSECURE":       false,
	"COURIER_WS_ORIGIN_REQUIRED":    true,
	"COURIER_WS_ALLOWED_ORIGINS":    []string{"http://localhost", "http://127.0.0.1"},
	"COURIER_WS_SEND_QUEUE":         256,
	"COURIER_WS_WRITE_TIMEOUT":      5 * time.Second,
	"COURIER_WS_READ_IDLE_TIMEOUT":  2 * time.Minute,
	"COURIER_WS_HEARTBEAT_INTERVAL": 25 * time.Second,
	"COURIER_WS_HEARTBEAT_TIMEOUT":  5 * time.Second,
	"COURIER_WS_RATE_EVENTS":        120,
	"COURIER_WS_RATE_WINDOW":        10 * time.Second,
	"COURIER_MAX_MESSAGE_CHARS":     5000,
	"COURIER_SEEN_RECEIPTS_ON_READ": true,

	"COURIER_NATS_URL":            "",
	"COURIER_NATS_SUBJECT_PREFIX": "courier",
	"COURIER_EVENTS_LOG":          false,

	"COURIER_OTLP_ENDPOINT": "",
	"COURIER_SERVICE_NAME":  "courier",
}

// LoadConfig reads envFile (if present), then the process environment, and validates the result.
// Environment variables override the file. A missing file is not an error.
func LoadConfig(envFile string) (Config, error) {
	cfg, err := LoadRawConfig(envFile)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadRawConfig decodes and normalizes the configuration without validating it.
// Tooling commands that need a single setting (the database URL) use it.
func LoadRawConfig(envFile string) (Config, error) {
	v := viper.New()

	if strings.TrimSpace(envFile) != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		_ = v.ReadInConfig()
	}

	v.AutomaticEnv()
	for k, def := range configDefaults {
		v.SetDefault(k, def)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)

	origins := make([]string, 0, len(c.WSAllowedOrigins))
	for _, o := range c.WSAllowedOrigins {
		for _, part := range strings.Split(o, ",") {
			if s := strings.TrimSpace(part); s != "" {
				origins = append(origins, s)
			}
		}
	}
	c.WSAllowedOrigins = origins
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation with its env key.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", envKey(fe.StructField()), fe.Tag()))
	}
	return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}

// envKey maps a Config field name to its environment key.
func envKey(field string) string {
	if f, ok := configFieldKeys[field]; ok {
		return f
	}
	return field
}

var configFieldKeys = func() map[string]string {
	out := make(map[string]string)
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		out[f.Name] = f.Tag.Get("mapstructure")
	}
	return out
}()

// TokenConfig projects the credential settings.
func (c Config) TokenConfig() token.Config {
	return token.Config{
		Issuer:         c.JWTIssuer,
		Secret:         c.JWTSecret,
		AccessTokenTTL: c.JWTTTL,
		ClockSkew:      c.JWTClockSkew,
	}
}

// GatewayConfig projects the websocket transport settings.
func (c Config) GatewayConfig() realtime.GatewayConfig {
	return realtime.GatewayConfig{
		DevInsecure:       c.WSDevInsecure,
		OriginRequired:    c.WSOriginRequired,
		AllowedOrigins:    c.WSAllowedOrigins,
		WriteTimeout:      c.WSWriteTimeout,
		ReadIdleTimeout:   c.WSReadIdleTimeout,
		SendQueueSize:     c.WSSendQueueSize,
		HeartbeatInterval: c.WSHeartbeatInterval,
		HeartbeatTimeout:  c.WSHeartbeatTimeout,
		RateEvents:        c.WSRateEvents,
		RateWindow:        c.WSRateWindow,
	}
}

// WebSocketURL is the local websocket endpoint derived from the listen address.
func (c Config) WebSocketURL() string {
	return wsBaseURL(runtimeBaseURL(c.HTTPAddr)) + "/ws"
}
