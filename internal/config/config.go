// Package config loads runtime configuration for the server and the edge
// agent from environment variables. Every tunable that governs alert volume
// (cooldown, debounce, retry budget, suspension threshold) lives here rather
// than in code.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tinegachris/iot-project-server-room-security/internal/event"
)

// Server holds configuration for the securityd binary.
type Server struct {
	HTTPAddr    string
	DatabaseURL string

	// DeviceAPIKeys maps API key -> device ID for the edge-facing endpoints.
	DeviceAPIKeys map[string]string
	// ClientTokens are bearer tokens accepted on the read/poll surface.
	ClientTokens []string

	// CooldownWindow suppresses repeat candidates sharing a dedup key.
	CooldownWindow time.Duration

	Dispatch DispatchConfig
	Channels ChannelConfig

	// OfflineThreshold derives edge_online from heartbeat recency.
	OfflineThreshold time.Duration
	// StoragePath is the mount point checked for headroom.
	StoragePath string
	// StorageMinFreePercent below which status degrades.
	StorageMinFreePercent float64

	EdgeBaseURL     string
	EdgeAPIKey      string
	EdgeCallTimeout time.Duration

	// RateLimit is requests per minute per client IP on the HTTP surface.
	RateLimit int

	// ShutdownGrace bounds how long in-flight dispatch retries may run
	// after a stop request.
	ShutdownGrace time.Duration

	LogLevel  string
	LogFormat string
}

// DispatchConfig is the retry budget for per-channel delivery.
type DispatchConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	QueueSize   int
	Workers     int
}

// ChannelConfig carries provider endpoints and recipients plus the
// severity -> channel selection policy.
type ChannelConfig struct {
	// Policy maps severity to the channels used for it.
	Policy map[event.Severity][]event.Channel

	SMSEndpoint  string
	SMSAccountID string
	SMSToken     string
	SMSFrom      string
	SMSTo        string

	SMTPHost  string
	SMTPPort  int
	SMTPUser  string
	SMTPPass  string
	EmailFrom string
	EmailTo   string

	PushEndpoint    string
	PushServerKey   string
	PushDeviceToken string
}

// Edge holds configuration for the edge-agent binary.
type Edge struct {
	DeviceID string

	ServerURL string
	APIKey    string

	// CommandAddr is where the edge command API listens.
	CommandAddr string

	HeartbeatInterval time.Duration
	SensorPollEvery   time.Duration

	Sensors []SensorConfig

	// CredentialTimeout bounds how long an access reader waits for a
	// credential after a read begins.
	CredentialTimeout time.Duration
	// AuthorizedCards are the credential IDs accepted by the access reader.
	AuthorizedCards []string

	CaptureTimeout time.Duration
	Media          MediaConfig

	LogLevel  string
	LogFormat string
}

// SensorConfig is the static per-sensor setup loaded at device start.
type SensorConfig struct {
	ID             string
	Kind           string // motion | door | window | access
	DebounceWindow time.Duration
	// TriggerDelay applies to motion sensors only: how long the line must
	// stay high before the transition is event-worthy.
	TriggerDelay time.Duration
}

// MediaConfig configures the object store holding captured evidence.
type MediaConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Region    string
	// URLExpiry bounds how long a media reference in an alert stays valid.
	URLExpiry time.Duration
}

// LoadServer reads server configuration from the environment.
func LoadServer() (*Server, error) {
	cfg := &Server{
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:           strings.TrimSpace(os.Getenv("DATABASE_URL")),
		CooldownWindow:        getDuration("EVENT_COOLDOWN", 60*time.Second),
		OfflineThreshold:      getDuration("EDGE_OFFLINE_THRESHOLD", 90*time.Second),
		StoragePath:           getEnv("STORAGE_PATH", "/"),
		StorageMinFreePercent: getFloat("STORAGE_MIN_FREE_PERCENT", 10),
		EdgeBaseURL:           getEnv("EDGE_BASE_URL", "http://localhost:8000"),
		EdgeAPIKey:            os.Getenv("EDGE_API_KEY"),
		EdgeCallTimeout:       getDuration("EDGE_CALL_TIMEOUT", 30*time.Second),
		RateLimit:             getInt("RATE_LIMIT_PER_MINUTE", 100),
		ShutdownGrace:         getDuration("SHUTDOWN_GRACE", 15*time.Second),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
		Dispatch: DispatchConfig{
			MaxAttempts: getInt("DISPATCH_MAX_ATTEMPTS", 5),
			BaseDelay:   getDuration("DISPATCH_BASE_DELAY", 2*time.Second),
			MaxDelay:    getDuration("DISPATCH_MAX_DELAY", time.Minute),
			QueueSize:   getInt("DISPATCH_QUEUE_SIZE", 256),
			Workers:     getInt("DISPATCH_WORKERS", 4),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL required")
	}

	var err error
	cfg.DeviceAPIKeys, err = parseKeyMap(getEnv("DEVICE_API_KEYS", ""))
	if err != nil {
		return nil, err
	}
	if len(cfg.DeviceAPIKeys) == 0 {
		return nil, fmt.Errorf("DEVICE_API_KEYS required (format \"device:key,device:key\")")
	}

	cfg.ClientTokens = splitList(os.Getenv("CLIENT_TOKENS"))
	if len(cfg.ClientTokens) == 0 {
		return nil, fmt.Errorf("CLIENT_TOKENS required")
	}

	cfg.Channels, err = loadChannels()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadEdge reads edge-agent configuration from the environment.
func LoadEdge() (*Edge, error) {
	cfg := &Edge{
		DeviceID:          getEnv("DEVICE_ID", "edge-1"),
		ServerURL:         getEnv("SERVER_URL", "http://localhost:8080"),
		APIKey:            os.Getenv("DEVICE_API_KEY"),
		CommandAddr:       getEnv("COMMAND_ADDR", ":8000"),
		HeartbeatInterval: getDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		SensorPollEvery:   getDuration("SENSOR_POLL_INTERVAL", 100*time.Millisecond),
		CredentialTimeout: getDuration("CREDENTIAL_TIMEOUT", 10*time.Second),
		AuthorizedCards:   splitList(os.Getenv("AUTHORIZED_CARDS")),
		CaptureTimeout:    getDuration("CAPTURE_TIMEOUT", 5*time.Second),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
		Media: MediaConfig{
			Endpoint:  os.Getenv("MEDIA_ENDPOINT"),
			AccessKey: os.Getenv("MEDIA_ACCESS_KEY"),
			SecretKey: os.Getenv("MEDIA_SECRET_KEY"),
			UseSSL:    getBool("MEDIA_USE_SSL", false),
			Bucket:    getEnv("MEDIA_BUCKET", "capture-evidence"),
			Region:    os.Getenv("MEDIA_REGION"),
			URLExpiry: getDuration("MEDIA_URL_EXPIRY", 24*time.Hour),
		},
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("DEVICE_API_KEY required")
	}

	cfg.Sensors = defaultSensors()
	return cfg, nil
}

// defaultSensors mirrors the wiring of the reference device: one motion
// line, one door contact, one window contact, one badge reader.
func defaultSensors() []SensorConfig {
	debounce := getDuration("SENSOR_DEBOUNCE", 500*time.Millisecond)
	return []SensorConfig{
		{ID: getEnv("MOTION_SENSOR_ID", "motion-1"), Kind: "motion",
			DebounceWindow: debounce,
			TriggerDelay:   getDuration("MOTION_TRIGGER_DELAY", 300*time.Millisecond)},
		{ID: getEnv("DOOR_SENSOR_ID", "door-1"), Kind: "door", DebounceWindow: debounce},
		{ID: getEnv("WINDOW_SENSOR_ID", "window-1"), Kind: "window", DebounceWindow: debounce},
		{ID: getEnv("ACCESS_SENSOR_ID", "badge-1"), Kind: "access", DebounceWindow: debounce},
	}
}

func loadChannels() (ChannelConfig, error) {
	cc := ChannelConfig{
		SMSEndpoint:  os.Getenv("SMS_ENDPOINT"),
		SMSAccountID: os.Getenv("SMS_ACCOUNT_ID"),
		SMSToken:     os.Getenv("SMS_TOKEN"),
		SMSFrom:      os.Getenv("SMS_FROM"),
		SMSTo:        os.Getenv("SMS_TO"),

		SMTPHost:  os.Getenv("SMTP_HOST"),
		SMTPPort:  getInt("SMTP_PORT", 587),
		SMTPUser:  os.Getenv("SMTP_USERNAME"),
		SMTPPass:  os.Getenv("SMTP_PASSWORD"),
		EmailFrom: os.Getenv("EMAIL_FROM"),
		EmailTo:   os.Getenv("EMAIL_TO"),

		PushEndpoint:    getEnv("PUSH_ENDPOINT", "https://fcm.googleapis.com/fcm/send"),
		PushServerKey:   os.Getenv("PUSH_SERVER_KEY"),
		PushDeviceToken: os.Getenv("PUSH_DEVICE_TOKEN"),
	}

	policy, err := parsePolicy(getEnv("CHANNEL_POLICY",
		"critical:sms,email,push;error:sms,email,push;warning:email,push;info:push"))
	if err != nil {
		return cc, err
	}
	cc.Policy = policy
	return cc, nil
}

// parsePolicy parses "severity:ch1,ch2;severity:ch1" into the selection map.
func parsePolicy(raw string) (map[event.Severity][]event.Channel, error) {
	policy := make(map[event.Severity][]event.Channel)
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sevChans := strings.SplitN(part, ":", 2)
		if len(sevChans) != 2 {
			return nil, fmt.Errorf("CHANNEL_POLICY entry %q must be \"severity:ch,ch\"", part)
		}
		sev := event.Severity(strings.TrimSpace(sevChans[0]))
		if !sev.Valid() {
			return nil, fmt.Errorf("CHANNEL_POLICY unknown severity %q", sevChans[0])
		}
		var chans []event.Channel
		for _, c := range strings.Split(sevChans[1], ",") {
			c = strings.TrimSpace(c)
			switch event.Channel(c) {
			case event.ChannelSMS, event.ChannelEmail, event.ChannelPush:
				chans = append(chans, event.Channel(c))
			default:
				return nil, fmt.Errorf("CHANNEL_POLICY unknown channel %q", c)
			}
		}
		policy[sev] = chans
	}
	return policy, nil
}

// parseKeyMap parses "name1:key1,name2:key2" into key -> name.
func parseKeyMap(raw string) (map[string]string, error) {
	out := map[string]string{}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("key map entry %q must be \"name:key\"", p)
		}
		out[strings.TrimSpace(parts[1])] = strings.TrimSpace(parts[0])
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Plain integers are read as seconds for compatibility with older
		// deployments that set cooldowns without a unit.
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
