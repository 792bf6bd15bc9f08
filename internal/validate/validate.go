// Package validate checks loaded configuration before either binary starts
// serving. Errors are accumulated so one run reports every problem instead
// of the first.
package validate

import (
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tinegachris/iot-project-server-room-security/internal/config"
	"github.com/tinegachris/iot-project-server-room-security/internal/event"
	"github.com/tinegachris/iot-project-server-room-security/internal/sensor"
)

type Validator struct{ errors []string }

func (v *Validator) AddError(format string, args ...interface{}) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}
func (v *Validator) HasErrors() bool  { return len(v.errors) > 0 }
func (v *Validator) Errors() []string { return v.errors }

// ServerConfig delegates to per-section validators and returns every
// problem found in one error.
func ServerConfig(cfg *config.Server) error {
	v := &Validator{}

	validateListenAddr(v, "HTTP", cfg.HTTPAddr)
	validateServerAuth(v, cfg)
	validateDispatchConfig(v, &cfg.Dispatch)
	validateChannelPolicy(v, cfg.Channels.Policy)
	validateChannelProviders(v, &cfg.Channels)
	validateServerGeneral(v, cfg)

	if v.HasErrors() {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(v.Errors(), "\n"))
	}
	return nil
}

// EdgeConfig validates the edge agent's configuration.
func EdgeConfig(cfg *config.Edge) error {
	v := &Validator{}

	validateEdgeGeneral(v, cfg)
	validateListenAddr(v, "command API", cfg.CommandAddr)
	validateSensors(v, cfg.Sensors)
	validateMediaConfig(v, &cfg.Media)

	if v.HasErrors() {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(v.Errors(), "\n"))
	}
	return nil
}

func validateListenAddr(v *Validator, what, addr string) {
	if addr == "" {
		v.AddError("%s address cannot be empty", what)
		return
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		v.AddError("%s address must be host:port: %v", what, err)
		return
	}
	if host != "" && host != "localhost" {
		if ip := net.ParseIP(host); ip == nil && !isValidHostname(host) {
			v.AddError("invalid hostname in %s address: %s", what, host)
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		v.AddError("invalid port in %s address: %s", what, portStr)
	}
}

func validateServerAuth(v *Validator, cfg *config.Server) {
	if len(cfg.DeviceAPIKeys) == 0 {
		v.AddError("at least one device API key is required")
	}
	for key, deviceID := range cfg.DeviceAPIKeys {
		if strings.TrimSpace(key) == "" {
			v.AddError("device API key for %q cannot be blank", deviceID)
		}
		if strings.TrimSpace(deviceID) == "" {
			v.AddError("device ID for an API key cannot be blank")
		}
	}
	for _, tok := range cfg.ClientTokens {
		if strings.TrimSpace(tok) == "" {
			v.AddError("client tokens cannot be blank")
		}
	}
}

func validateDispatchConfig(v *Validator, cfg *config.DispatchConfig) {
	if cfg.MaxAttempts < 1 {
		v.AddError("dispatch max attempts must be at least 1, got %d", cfg.MaxAttempts)
	}
	if cfg.BaseDelay <= 0 {
		v.AddError("dispatch base delay must be positive, got %s", cfg.BaseDelay)
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		v.AddError("dispatch max delay %s is below base delay %s", cfg.MaxDelay, cfg.BaseDelay)
	}
	if cfg.Workers < 1 {
		v.AddError("dispatch workers must be at least 1, got %d", cfg.Workers)
	}
	if cfg.QueueSize < 1 {
		v.AddError("dispatch queue size must be at least 1, got %d", cfg.QueueSize)
	}
}

func validateChannelPolicy(v *Validator, policy map[event.Severity][]event.Channel) {
	for sev, channels := range policy {
		if !sev.Valid() {
			v.AddError("channel policy references unknown severity %q", sev)
		}
		if len(channels) == 0 {
			v.AddError("channel policy for severity %q selects no channels", sev)
		}
		for _, ch := range channels {
			if !ch.Valid() {
				v.AddError("channel policy for severity %q references unknown channel %q", sev, ch)
			}
		}
	}
}

// validateChannelProviders checks that partially configured providers are
// caught at start rather than at first delivery. A fully empty provider is
// fine; that channel is simply not offered.
func validateChannelProviders(v *Validator, cfg *config.ChannelConfig) {
	if cfg.SMSEndpoint != "" || cfg.SMSAccountID != "" || cfg.SMSToken != "" {
		validateURL(v, "SMS endpoint", cfg.SMSEndpoint)
		if cfg.SMSAccountID == "" || cfg.SMSToken == "" {
			v.AddError("SMS channel needs both account ID and token")
		}
		if cfg.SMSTo == "" {
			v.AddError("SMS channel has no recipient number")
		}
	}

	if cfg.SMTPHost != "" {
		if cfg.SMTPPort < 1 || cfg.SMTPPort > 65535 {
			v.AddError("invalid SMTP port: %d", cfg.SMTPPort)
		}
		validateEmailAddr(v, "email sender", cfg.EmailFrom)
		validateEmailAddr(v, "email recipient", cfg.EmailTo)
	}

	if cfg.PushEndpoint != "" || cfg.PushServerKey != "" {
		validateURL(v, "push endpoint", cfg.PushEndpoint)
		if cfg.PushServerKey == "" {
			v.AddError("push channel needs a server key")
		}
		if cfg.PushDeviceToken == "" {
			v.AddError("push channel has no device token")
		}
	}
}

func validateServerGeneral(v *Validator, cfg *config.Server) {
	if cfg.DatabaseURL == "" {
		v.AddError("database URL cannot be empty")
	}
	if cfg.CooldownWindow <= 0 {
		v.AddError("cooldown window must be positive, got %s", cfg.CooldownWindow)
	}
	if cfg.OfflineThreshold <= 0 {
		v.AddError("offline threshold must be positive, got %s", cfg.OfflineThreshold)
	}
	if cfg.StorageMinFreePercent < 0 || cfg.StorageMinFreePercent > 100 {
		v.AddError("storage minimum free percent must be within [0,100], got %g", cfg.StorageMinFreePercent)
	}
	if cfg.EdgeBaseURL != "" {
		validateURL(v, "edge base URL", cfg.EdgeBaseURL)
	}
	if cfg.RateLimit < 1 {
		v.AddError("rate limit must be at least 1 request per minute, got %d", cfg.RateLimit)
	}
}

func validateEdgeGeneral(v *Validator, cfg *config.Edge) {
	if strings.TrimSpace(cfg.DeviceID) == "" {
		v.AddError("device ID cannot be empty")
	}
	validateURL(v, "server URL", cfg.ServerURL)
	if cfg.APIKey == "" {
		v.AddError("device API key cannot be empty")
	}
	if cfg.HeartbeatInterval <= 0 {
		v.AddError("heartbeat interval must be positive, got %s", cfg.HeartbeatInterval)
	}
	if cfg.SensorPollEvery <= 0 {
		v.AddError("sensor poll interval must be positive, got %s", cfg.SensorPollEvery)
	}
	if cfg.CredentialTimeout <= 0 {
		v.AddError("credential timeout must be positive, got %s", cfg.CredentialTimeout)
	}
}

func validateSensors(v *Validator, sensors []config.SensorConfig) {
	if len(sensors) == 0 {
		v.AddError("at least one sensor must be configured")
	}
	seen := make(map[string]bool, len(sensors))
	accessReaders := 0
	for _, sc := range sensors {
		if strings.TrimSpace(sc.ID) == "" {
			v.AddError("sensor ID cannot be empty")
			continue
		}
		if seen[sc.ID] {
			v.AddError("duplicate sensor ID %q", sc.ID)
		}
		seen[sc.ID] = true

		switch sensor.Kind(sc.Kind) {
		case sensor.KindMotion:
			if sc.TriggerDelay < 0 {
				v.AddError("sensor %q trigger delay cannot be negative", sc.ID)
			}
		case sensor.KindDoor, sensor.KindWindow:
			if sc.TriggerDelay != 0 {
				v.AddError("sensor %q: trigger delay only applies to motion sensors", sc.ID)
			}
		case sensor.KindAccess:
			accessReaders++
		default:
			v.AddError("sensor %q has unknown kind %q", sc.ID, sc.Kind)
		}
		if sc.DebounceWindow < 0 {
			v.AddError("sensor %q debounce window cannot be negative", sc.ID)
		}
	}
	if accessReaders > 1 {
		v.AddError("at most one access reader is supported, got %d", accessReaders)
	}
}

func validateMediaConfig(v *Validator, cfg *config.MediaConfig) {
	if cfg.Endpoint == "" {
		return
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		v.AddError("media store needs both access key and secret key")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		v.AddError("media bucket cannot be empty")
	}
	if cfg.URLExpiry < time.Minute {
		v.AddError("media URL expiry %s is too short to be useful", cfg.URLExpiry)
	}
}

func validateURL(v *Validator, what, raw string) {
	if raw == "" {
		v.AddError("%s cannot be empty", what)
		return
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		v.AddError("%s is not a valid URL: %s", what, raw)
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		v.AddError("%s must use http or https, got %s", what, u.Scheme)
	}
}

func validateEmailAddr(v *Validator, what, addr string) {
	if addr == "" {
		v.AddError("%s cannot be empty", what)
		return
	}
	if _, err := mail.ParseAddress(addr); err != nil {
		v.AddError("%s is not a valid email address: %s", what, addr)
	}
}

func isValidHostname(host string) bool {
	if len(host) == 0 || len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		for i, r := range label {
			alnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			if !alnum && r != '-' {
				return false
			}
			if r == '-' && (i == 0 || i == len(label)-1) {
				return false
			}
		}
	}
	return true
}
