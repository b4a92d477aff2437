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

// Protocol holds the rendezvous timing and distance tunables.
type Protocol struct {
	HeartbeatInterval   time.Duration
	InactivityLimit     time.Duration
	CleanupInterval     time.Duration
	LocationFreshness   time.Duration
	DefaultRadiusFeet   float64
	MaxRadiusFeet       float64
	ProximityMeters     float64
	ProximityDebounce   time.Duration
	ProximityHold       time.Duration
	ChatEnsureAttempts  int
	ChatEnsureBaseDelay time.Duration
}

func DefaultProtocol() Protocol {
	return Protocol{
		HeartbeatInterval:   10 * time.Second,
		InactivityLimit:     60 * time.Second,
		CleanupInterval:     time.Minute,
		LocationFreshness:   5 * time.Minute,
		DefaultRadiusFeet:   250,
		MaxRadiusFeet:       5280,
		ProximityMeters:     3,
		ProximityDebounce:   500 * time.Millisecond,
		ProximityHold:       time.Second,
		ChatEnsureAttempts:  5,
		ChatEnsureBaseDelay: 200 * time.Millisecond,
	}
}

type Config struct {
	Port     string
	GinMode  string
	LogLevel string

	JWTSecret string

	// An empty MongoURI selects the in-memory store.
	MongoURI string
	MongoDB  string
	// An empty RedisAddr selects in-memory chat presence.
	RedisAddr string

	CloudinaryURL string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string
	// ExpoPushURL is the Expo push host; the send path is appended by the client.
	ExpoPushURL string

	CleanupToken string
	// AllowOrigins comes from the comma separated CORS_ORIGINS.
	AllowOrigins []string

	// When TermsVersion is set the server publishes these terms at startup.
	TermsVersion string
	TermsText    string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	Protocol Protocol
}

var ErrMissingJWTSecret = errors.New("JWT_SECRET must be set")

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		GinMode:            os.Getenv("GIN_MODE"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		MongoURI:           os.Getenv("MONGODB_URI"),
		MongoDB:            getEnv("MONGODB_DB", "nicmeup"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		CloudinaryURL:      os.Getenv("CLOUDINARY_URL"),
		VAPIDPublicKey:     os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey:    os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubscriber:    getEnv("VAPID_SUBSCRIBER", "mailto:admin@nicmeup.app"),
		ExpoPushURL:        getEnv("EXPO_PUSH_URL", "https://exp.host"),
		CleanupToken:       os.Getenv("CLEANUP_TOKEN"),
		AllowOrigins:       splitList(os.Getenv("CORS_ORIGINS")),
		TermsVersion:       os.Getenv("TERMS_VERSION"),
		TermsText:          os.Getenv("TERMS_TEXT"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", "http://localhost:8080/api/google/callback"),
		Protocol:           DefaultProtocol(),
	}

	if cfg.JWTSecret == "" {
		return nil, ErrMissingJWTSecret
	}

	p := &cfg.Protocol
	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"HEARTBEAT_INTERVAL", &p.HeartbeatInterval},
		{"INACTIVITY_LIMIT", &p.InactivityLimit},
		{"CLEANUP_INTERVAL", &p.CleanupInterval},
		{"LOCATION_FRESHNESS", &p.LocationFreshness},
		{"PROXIMITY_DEBOUNCE", &p.ProximityDebounce},
		{"PROXIMITY_HOLD", &p.ProximityHold},
		{"CHAT_ENSURE_BASE_DELAY", &p.ChatEnsureBaseDelay},
	}
	for _, d := range durations {
		if err = durationEnv(d.key, d.dst); err != nil {
			return nil, err
		}
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"DEFAULT_RADIUS_FEET", &p.DefaultRadiusFeet},
		{"MAX_RADIUS_FEET", &p.MaxRadiusFeet},
		{"PROXIMITY_METERS", &p.ProximityMeters},
	}
	for _, f := range floats {
		if err = floatEnv(f.key, f.dst); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("CHAT_ENSURE_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid CHAT_ENSURE_ATTEMPTS %q", v)
		}
		p.ChatEnsureAttempts = n
	}

	return cfg, nil
}

// Release reports whether gin should run in release mode.
func (c *Config) Release() bool {
	return c.GinMode == "release"
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fmt.Errorf("invalid %s %q", key, v)
	}
	*dst = d
	return nil
}

func floatEnv(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fmt.Errorf("invalid %s %q", key, v)
	}
	*dst = f
	return nil
}
