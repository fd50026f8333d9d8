package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultJWTSecret is the development signing key. Serving with it logs a
// warning.
const DefaultJWTSecret = "super-secret-key"

type Config struct {
	HTTPAddr    string   `toml:"http_addr"`    // HOMEWATCH_HTTP_ADDR (default ":8000")
	GRPCAddr    string   `toml:"grpc_addr"`    // HOMEWATCH_GRPC_ADDR (default ":9090"; empty = disabled)
	DatabaseURL string   `toml:"database_url"` // HOMEWATCH_DATABASE_URL (default "sqlite://data/homewatch.db")
	NATSURL     string   `toml:"nats_url"`     // HOMEWATCH_NATS_URL (optional, empty = no events mirror)
	LogLevel    string   `toml:"log_level"`    // HOMEWATCH_LOG_LEVEL (debug|info|warn|error)
	Origins     []string `toml:"allowed_origins"`

	Auth      AuthConfig      `toml:"auth"`
	Events    EventsConfig    `toml:"events"`
	Snapshots SnapshotConfig  `toml:"snapshots"`
	Retention RetentionConfig `toml:"retention"`
	Export    ExportConfig    `toml:"export"`
	Notify    NotifyConfig    `toml:"notify"`
	Camera    CameraConfig    `toml:"camera"`
	Detect    DetectConfig    `toml:"detect"`
}

type AuthConfig struct {
	JWTSecret string   `toml:"jwt_secret"`
	TokenTTL  Duration `toml:"token_ttl"`
	Username  string   `toml:"username"`
	Password  string   `toml:"password"`
}

type EventsConfig struct {
	Limit            int      `toml:"limit"`             // log capacity
	SubscriberBuffer int      `toml:"subscriber_buffer"` // per-subscriber queue
	Zones            []string `toml:"zones"`
	Severities       []string `toml:"severity_levels"`
	Sources          []string `toml:"sources"`
	ThumbnailURL     string   `toml:"thumbnail_url"`
}

type SnapshotConfig struct {
	Dir        string `toml:"dir"`
	S3Bucket   string `toml:"s3_bucket"` // enables S3 snapshots when set
	S3Region   string `toml:"s3_region"`
	S3Endpoint string `toml:"s3_endpoint"` // custom endpoint for MinIO
	S3Prefix   string `toml:"s3_prefix"`
}

type RetentionConfig struct {
	Days     int      `toml:"days"` // <= 0 disables pruning
	Interval Duration `toml:"interval"`
}

type ExportConfig struct {
	Interval Duration `toml:"interval"` // 0 = disabled
	S3Key    string   `toml:"s3_key"`
}

type NotifyConfig struct {
	WebhookURL  string   `toml:"webhook_url"`
	MinInterval Duration `toml:"min_interval"`
}

type CameraConfig struct {
	Enabled         bool     `toml:"enabled"`
	Source          string   `toml:"source"`
	Interval        Duration `toml:"interval"`
	CaptureTimeout  Duration `toml:"capture_timeout"`
	PixelThreshold  int      `toml:"pixel_threshold"`
	MinArea         int      `toml:"min_area"`
	MinRegion       int      `toml:"min_region"`
	BlurRadius      int      `toml:"blur_radius"`
	BaselineRefresh int      `toml:"baseline_refresh"`
	RebaseOnMotion  bool     `toml:"rebase_on_motion"`
	MaxFailures     int      `toml:"max_failures"`
	Zone            string   `toml:"zone"`
}

type DetectConfig struct {
	URL           string   `toml:"url"` // empty = no detector
	Confidence    float64  `toml:"confidence"`
	MaxDetections int      `toml:"max"`
	MinInterval   Duration `toml:"min_interval"`
}

// Duration wraps time.Duration so it can be written as "1s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ConfigError lists every invalid setting found by Load.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:    ":8000",
		GRPCAddr:    ":9090",
		DatabaseURL: "sqlite://data/homewatch.db",
		LogLevel:    "info",
		Origins:     []string{"http://localhost:5173", "http://127.0.0.1:5173", "*"},
		Auth: AuthConfig{
			JWTSecret: DefaultJWTSecret,
			TokenTTL:  Duration{time.Hour},
			Username:  "admin",
			Password:  "changeme",
		},
		Events: EventsConfig{
			Limit:            200,
			SubscriberBuffer: 64,
			Zones:            []string{"Front Door", "Backyard", "Driveway", "Garage", "Living Room"},
			Severities:       []string{"low", "medium", "high"},
			Sources:          []string{"test-cam-1", "test-cam-2", "simulated-ai"},
			ThumbnailURL:     "https://placehold.co/120x68?text=Motion",
		},
		Snapshots: SnapshotConfig{
			Dir:      "data/snaps",
			S3Region: "us-east-1",
			S3Prefix: "homewatch/",
		},
		Retention: RetentionConfig{Days: 7, Interval: Duration{time.Hour}},
		Export:    ExportConfig{S3Key: "homewatch/events.jsonl"},
		Notify:    NotifyConfig{MinInterval: Duration{time.Second}},
		Camera: CameraConfig{
			Source:          "/dev/shm/homewatch.jpg",
			Interval:        Duration{time.Second},
			CaptureTimeout:  Duration{5 * time.Second},
			PixelThreshold:  25,
			MinArea:         5000,
			MinRegion:       50,
			BlurRadius:      5,
			BaselineRefresh: 150,
			RebaseOnMotion:  true,
			MaxFailures:     5,
			Zone:            "Laptop Camera",
		},
		Detect: DetectConfig{
			Confidence:    0.25,
			MaxDetections: 3,
			MinInterval:   Duration{500 * time.Millisecond},
		},
	}
}

// Load builds the configuration from defaults, the optional TOML file named
// by HOMEWATCH_CONFIG, and HOMEWATCH_* environment overrides, in that order.
func Load() (*Config, error) {
	c := Default()

	if path := os.Getenv("HOMEWATCH_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("HOMEWATCH_CONFIG: %w", err)
		}
	}

	cerr := &ConfigError{}
	env := envReader{err: cerr}

	c.HTTPAddr = envOrDefault("HOMEWATCH_HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = env.getString("HOMEWATCH_GRPC_ADDR", c.GRPCAddr)
	c.DatabaseURL = envOrDefault("HOMEWATCH_DATABASE_URL", c.DatabaseURL)
	c.NATSURL = envOrDefault("HOMEWATCH_NATS_URL", c.NATSURL)
	c.LogLevel = envOrDefault("HOMEWATCH_LOG_LEVEL", c.LogLevel)
	c.Origins = env.getList("HOMEWATCH_ALLOWED_ORIGINS", c.Origins)

	c.Auth.JWTSecret = envOrDefault("HOMEWATCH_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.TokenTTL = env.getDuration("HOMEWATCH_TOKEN_TTL", c.Auth.TokenTTL)
	c.Auth.Username = envOrDefault("HOMEWATCH_AUTH_USERNAME", c.Auth.Username)
	c.Auth.Password = envOrDefault("HOMEWATCH_AUTH_PASSWORD", c.Auth.Password)

	c.Events.Limit = env.getInt("HOMEWATCH_EVENTS_LIMIT", c.Events.Limit)
	c.Events.SubscriberBuffer = env.getInt("HOMEWATCH_SUBSCRIBER_BUFFER", c.Events.SubscriberBuffer)
	c.Events.Zones = env.getList("HOMEWATCH_ZONES", c.Events.Zones)
	c.Events.Severities = env.getList("HOMEWATCH_SEVERITY_LEVELS", c.Events.Severities)
	c.Events.Sources = env.getList("HOMEWATCH_SOURCES", c.Events.Sources)
	c.Events.ThumbnailURL = envOrDefault("HOMEWATCH_THUMBNAIL_URL", c.Events.ThumbnailURL)

	c.Snapshots.Dir = envOrDefault("HOMEWATCH_SNAPSHOT_DIR", c.Snapshots.Dir)
	c.Snapshots.S3Bucket = envOrDefault("HOMEWATCH_S3_BUCKET", c.Snapshots.S3Bucket)
	c.Snapshots.S3Region = envOrDefault("HOMEWATCH_S3_REGION", c.Snapshots.S3Region)
	c.Snapshots.S3Endpoint = envOrDefault("HOMEWATCH_S3_ENDPOINT", c.Snapshots.S3Endpoint)
	c.Snapshots.S3Prefix = envOrDefault("HOMEWATCH_S3_PREFIX", c.Snapshots.S3Prefix)

	c.Retention.Days = env.getInt("HOMEWATCH_RETENTION_DAYS", c.Retention.Days)
	c.Retention.Interval = env.getDuration("HOMEWATCH_RETENTION_INTERVAL", c.Retention.Interval)

	c.Export.Interval = env.getDuration("HOMEWATCH_EXPORT_INTERVAL", c.Export.Interval)
	c.Export.S3Key = envOrDefault("HOMEWATCH_EXPORT_S3_KEY", c.Export.S3Key)

	c.Notify.WebhookURL = envOrDefault("HOMEWATCH_NOTIFY_WEBHOOK_URL", c.Notify.WebhookURL)
	c.Notify.MinInterval = env.getDuration("HOMEWATCH_NOTIFY_MIN_INTERVAL", c.Notify.MinInterval)

	c.Camera.Enabled = env.getBool("HOMEWATCH_CAM_ENABLED", c.Camera.Enabled)
	c.Camera.Source = envOrDefault("HOMEWATCH_CAM_SOURCE", c.Camera.Source)
	c.Camera.Interval = env.getDuration("HOMEWATCH_CAM_INTERVAL", c.Camera.Interval)
	c.Camera.CaptureTimeout = env.getDuration("HOMEWATCH_CAM_CAPTURE_TIMEOUT", c.Camera.CaptureTimeout)
	c.Camera.PixelThreshold = env.getInt("HOMEWATCH_CAM_PIXEL_THRESHOLD", c.Camera.PixelThreshold)
	c.Camera.MinArea = env.getInt("HOMEWATCH_CAM_MIN_AREA", c.Camera.MinArea)
	c.Camera.MinRegion = env.getInt("HOMEWATCH_CAM_MIN_REGION", c.Camera.MinRegion)
	c.Camera.BlurRadius = env.getInt("HOMEWATCH_CAM_BLUR_RADIUS", c.Camera.BlurRadius)
	c.Camera.BaselineRefresh = env.getInt("HOMEWATCH_CAM_BASELINE_REFRESH", c.Camera.BaselineRefresh)
	c.Camera.RebaseOnMotion = env.getBool("HOMEWATCH_CAM_REBASE_ON_MOTION", c.Camera.RebaseOnMotion)
	c.Camera.MaxFailures = env.getInt("HOMEWATCH_CAM_MAX_FAILURES", c.Camera.MaxFailures)
	c.Camera.Zone = envOrDefault("HOMEWATCH_CAM_ZONE", c.Camera.Zone)

	c.Detect.URL = envOrDefault("HOMEWATCH_DETECT_URL", c.Detect.URL)
	c.Detect.Confidence = env.getFloat("HOMEWATCH_DETECT_CONFIDENCE", c.Detect.Confidence)
	c.Detect.MaxDetections = env.getInt("HOMEWATCH_DETECT_MAX", c.Detect.MaxDetections)
	c.Detect.MinInterval = env.getDuration("HOMEWATCH_DETECT_MIN_INTERVAL", c.Detect.MinInterval)

	c.validate(cerr)
	if len(cerr.Problems) > 0 {
		return nil, cerr
	}
	return c, nil
}

func (c *Config) validate(cerr *ConfigError) {
	if c.HTTPAddr == "" {
		cerr.add("HOMEWATCH_HTTP_ADDR must not be empty")
	}
	if c.DatabaseURL == "" {
		cerr.add("HOMEWATCH_DATABASE_URL must not be empty")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		cerr.add("HOMEWATCH_LOG_LEVEL: unknown level %q", c.LogLevel)
	}
	if c.Auth.JWTSecret == "" {
		cerr.add("HOMEWATCH_JWT_SECRET must not be empty")
	}
	if c.Auth.TokenTTL.Duration <= 0 {
		cerr.add("HOMEWATCH_TOKEN_TTL must be positive")
	}
	if c.Auth.Username == "" || c.Auth.Password == "" {
		cerr.add("HOMEWATCH_AUTH_USERNAME and HOMEWATCH_AUTH_PASSWORD must not be empty")
	}
	if c.Events.Limit < 1 {
		cerr.add("HOMEWATCH_EVENTS_LIMIT must be at least 1, got %d", c.Events.Limit)
	}
	if c.Events.SubscriberBuffer < 1 {
		cerr.add("HOMEWATCH_SUBSCRIBER_BUFFER must be at least 1, got %d", c.Events.SubscriberBuffer)
	}
	if len(c.Events.Zones) == 0 || len(c.Events.Sources) == 0 || len(c.Events.Severities) == 0 {
		cerr.add("HOMEWATCH_ZONES, HOMEWATCH_SOURCES and HOMEWATCH_SEVERITY_LEVELS must not be empty")
	}
	for _, s := range c.Events.Severities {
		switch s {
		case "low", "medium", "high":
		default:
			cerr.add("HOMEWATCH_SEVERITY_LEVELS: unknown severity %q", s)
		}
	}
	if c.Retention.Days > 0 && c.Retention.Interval.Duration <= 0 {
		cerr.add("HOMEWATCH_RETENTION_INTERVAL must be positive when retention is enabled")
	}
	if c.Export.Interval.Duration < 0 {
		cerr.add("HOMEWATCH_EXPORT_INTERVAL must not be negative")
	}
	if c.Notify.MinInterval.Duration < 0 {
		cerr.add("HOMEWATCH_NOTIFY_MIN_INTERVAL must not be negative")
	}
	if c.Detect.Confidence < 0 || c.Detect.Confidence > 1 {
		cerr.add("HOMEWATCH_DETECT_CONFIDENCE must be within [0,1], got %g", c.Detect.Confidence)
	}
	if c.Detect.MaxDetections < 1 {
		cerr.add("HOMEWATCH_DETECT_MAX must be at least 1, got %d", c.Detect.MaxDetections)
	}

	// Camera settings are only checked when the watcher will run.
	if !c.Camera.Enabled {
		return
	}
	cam := c.Camera
	if cam.Source == "" {
		cerr.add("HOMEWATCH_CAM_SOURCE must not be empty")
	}
	if cam.Interval.Duration <= 0 {
		cerr.add("HOMEWATCH_CAM_INTERVAL must be positive")
	}
	if cam.CaptureTimeout.Duration <= 0 {
		cerr.add("HOMEWATCH_CAM_CAPTURE_TIMEOUT must be positive")
	}
	if cam.PixelThreshold < 1 || cam.PixelThreshold > 255 {
		cerr.add("HOMEWATCH_CAM_PIXEL_THRESHOLD must be within [1,255], got %d", cam.PixelThreshold)
	}
	if cam.MinArea <= 0 {
		cerr.add("HOMEWATCH_CAM_MIN_AREA must be positive, got %d", cam.MinArea)
	}
	if cam.MinRegion < 1 {
		cerr.add("HOMEWATCH_CAM_MIN_REGION must be at least 1, got %d", cam.MinRegion)
	}
	if cam.BlurRadius < 0 {
		cerr.add("HOMEWATCH_CAM_BLUR_RADIUS must not be negative, got %d", cam.BlurRadius)
	}
	if cam.BaselineRefresh <= 0 {
		cerr.add("HOMEWATCH_CAM_BASELINE_REFRESH must be positive, got %d", cam.BaselineRefresh)
	}
	if cam.MaxFailures <= 0 {
		cerr.add("HOMEWATCH_CAM_MAX_FAILURES must be positive, got %d", cam.MaxFailures)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envReader parses typed overrides, recording malformed values instead of
// stopping at the first one.
type envReader struct {
	err *ConfigError
}

// getString distinguishes an unset variable from one explicitly set empty.
func (r envReader) getString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func (r envReader) getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.err.add("%s: %v", key, err)
		return fallback
	}
	return n
}

func (r envReader) getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.err.add("%s: %v", key, err)
		return fallback
	}
	return f
}

func (r envReader) getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.err.add("%s: %v", key, err)
		return fallback
	}
	return b
}

func (r envReader) getDuration(key string, fallback Duration) Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.err.add("%s: %v", key, err)
		return fallback
	}
	return Duration{d}
}

func (r envReader) getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
