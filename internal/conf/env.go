// env.go - Environment variable configuration and validation for nailong-guard
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "NAILONG_DEBUG", validateEnvBool},
		{"main.datadir", "NAILONG_DATADIR", validateEnvPath},
		{"main.tempdir", "NAILONG_TEMPDIR", validateEnvPath},
		{"log.level", "NAILONG_LOG_LEVEL", validateEnvLogLevel},

		// Detector
		{"detector.backend", "NAILONG_DETECTOR_BACKEND", validateEnvBackend},
		{"detector.modelpath", "NAILONG_MODELPATH", validateEnvPath},
		{"detector.threads", "NAILONG_THREADS", validateEnvThreads},
		{"detector.trigger", "NAILONG_TRIGGER", validateEnvUnitInterval},
		{"detector.remote.url", "NAILONG_REMOTE_URL", validateEnvURL},

		// Moderation policy
		{"moderation.bancooldown", "NAILONG_BAN_COOLDOWN", validateEnvDuration},
		{"moderation.banduration", "NAILONG_BAN_DURATION", validateEnvDuration},
		{"moderation.admins", "NAILONG_ADMINS", validateEnvIDList},

		// Host connection
		{"onebot.url", "NAILONG_ONEBOT_URL", validateEnvURL},
		{"onebot.accesstoken", "NAILONG_ONEBOT_TOKEN", nil},

		// Integrations
		{"storage.type", "NAILONG_STORAGE", validateEnvStorage},
		{"mqtt.broker", "NAILONG_MQTT_BROKER", validateEnvURL},
		{"mqtt.password", "NAILONG_MQTT_PASSWORD", nil},
		{"sentry.dsn", "NAILONG_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// validateEnvBool validates boolean environment variables
func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

// validateEnvLogLevel validates log level names
func validateEnvLogLevel(value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "trace", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("must be one of trace, debug, info, warn, error")
}

// validateEnvBackend validates the inference backend name
func validateEnvBackend(value string) error {
	switch strings.TrimSpace(value) {
	case BackendTFLite, BackendRemote:
		return nil
	}
	return fmt.Errorf("must be %q or %q", BackendTFLite, BackendRemote)
}

// validateEnvStorage validates the storage backend name
func validateEnvStorage(value string) error {
	switch strings.TrimSpace(value) {
	case StorageJSON, StorageSQLite:
		return nil
	}
	return fmt.Errorf("must be %q or %q", StorageJSON, StorageSQLite)
}

// validateEnvThreads validates interpreter thread count
func validateEnvThreads(value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("must be an integer")
	}
	if n < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

// validateEnvUnitInterval validates a confidence value between 0 and 1
func validateEnvUnitInterval(value string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 32)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if f < 0 || f > 1 {
		return fmt.Errorf("must be between 0 and 1")
	}
	return nil
}

// validateEnvDuration validates durations like "60s" or "2m"
func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("must be a duration such as 60s")
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

// validateEnvIDList validates a comma separated list of numeric ids
func validateEnvIDList(value string) error {
	for part := range strings.SplitSeq(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, err := strconv.ParseInt(part, 10, 64); err != nil {
			return fmt.Errorf("%q is not a numeric id", part)
		}
	}
	return nil
}

// validateEnvURL validates that the value parses as an absolute URL
func validateEnvURL(value string) error {
	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("URL needs a scheme and host")
	}
	return nil
}

// validateEnvPath rejects paths that try to climb out of the working tree
func validateEnvPath(value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("path is empty")
	}
	for part := range strings.SplitSeq(value, string(os.PathSeparator)) {
		if part == ".." {
			return fmt.Errorf("path traversal detected: %s", value)
		}
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars()
}
