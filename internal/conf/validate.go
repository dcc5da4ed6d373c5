// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Backend and storage names accepted in the configuration.
const (
	BackendTFLite = "tflite"
	BackendRemote = "remote"
	StorageJSON   = "json"
	StorageSQLite = "sqlite"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, check := range []func(*Settings) error{
		validateMainSettings,
		validateDetectorSettings,
		validateModerationSettings,
		validateCommandSettings,
		validateStorageSettings,
		validateFetchSettings,
		validateOneBotSettings,
		validateMQTTSettings,
		validateTelemetrySettings,
	} {
		if err := check(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateMainSettings(s *Settings) error {
	if s.Main.DataDir == "" {
		return fmt.Errorf("main.datadir must be set")
	}
	if s.Main.TempDir == "" {
		return fmt.Errorf("main.tempdir must be set")
	}
	return nil
}

// validateDetectorSettings validates the detection pipeline settings
func validateDetectorSettings(s *Settings) error {
	d := &s.Detector
	var errs []string

	switch d.Backend {
	case BackendTFLite:
		if d.ModelPath == "" {
			errs = append(errs, "detector.modelpath must be set for the tflite backend")
		}
	case BackendRemote:
		if u, err := url.Parse(d.Remote.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("detector.remote.url %q is not a valid URL", d.Remote.URL))
		}
		if d.Remote.Model == "" {
			errs = append(errs, "detector.remote.model must be set")
		}
	default:
		errs = append(errs, fmt.Sprintf("detector.backend must be %q or %q, got %q", BackendTFLite, BackendRemote, d.Backend))
	}

	if d.InputSize <= 0 {
		errs = append(errs, "detector.inputsize must be positive")
	}
	if d.Threads < 0 {
		errs = append(errs, "detector.threads must not be negative")
	}
	if len(d.Labels) == 0 {
		errs = append(errs, "detector.labels must list at least one class")
	} else if !slices.Contains(d.Labels, d.PositiveLabel) {
		errs = append(errs, fmt.Sprintf("detector.positivelabel %q is not in detector.labels", d.PositiveLabel))
	}

	for name, v := range map[string]float32{
		"confidencefloor": d.ConfidenceFloor,
		"iouthreshold":    d.IoUThreshold,
		"trigger":         d.Trigger,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("detector.%s must be between 0 and 1, got %v", name, v))
		}
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return fmt.Errorf("detector settings errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// validateModerationSettings validates the enforcement policy
func validateModerationSettings(s *Settings) error {
	m := &s.Moderation
	var errs []string

	if m.BanCooldown < 0 {
		errs = append(errs, "moderation.bancooldown must not be negative")
	}
	// The host API takes whole seconds; anything shorter would unmute immediately
	if m.BanDuration < time.Second {
		errs = append(errs, "moderation.banduration must be at least 1s")
	}
	if m.DeleteDelay < 0 || m.ArtifactGrace < 0 || m.ShutdownTimeout < 0 {
		errs = append(errs, "moderation delays must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("moderation settings errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// validateCommandSettings makes sure every command is set and distinct
func validateCommandSettings(s *Settings) error {
	cmds := map[string]string{
		"start":   strings.TrimSpace(s.Commands.Start),
		"stop":    strings.TrimSpace(s.Commands.Stop),
		"check":   strings.TrimSpace(s.Commands.Check),
		"mytimes": strings.TrimSpace(s.Commands.MyTimes),
	}
	seen := make(map[string]string, len(cmds))
	var errs []string
	for _, name := range []string{"start", "stop", "check", "mytimes"} {
		text := cmds[name]
		if text == "" {
			errs = append(errs, fmt.Sprintf("commands.%s must not be empty", name))
			continue
		}
		if other, ok := seen[text]; ok {
			errs = append(errs, fmt.Sprintf("commands.%s duplicates commands.%s", name, other))
		}
		seen[text] = name
	}
	if len(errs) > 0 {
		return fmt.Errorf("command settings errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateStorageSettings(s *Settings) error {
	if s.Storage.FlushInterval < 0 {
		return fmt.Errorf("storage.flushinterval must not be negative, got %s", s.Storage.FlushInterval)
	}
	switch s.Storage.Type {
	case StorageJSON:
		return nil
	case StorageSQLite:
		if s.Storage.Path == "" {
			return fmt.Errorf("storage.path must be set for sqlite storage")
		}
		return nil
	}
	return fmt.Errorf("storage.type must be %q or %q, got %q", StorageJSON, StorageSQLite, s.Storage.Type)
}

func validateFetchSettings(s *Settings) error {
	if s.Fetch.Concurrency < 1 {
		return fmt.Errorf("fetch.concurrency must be at least 1")
	}
	if s.Fetch.MaxBytes <= 0 {
		return fmt.Errorf("fetch.maxbytes must be positive")
	}
	return nil
}

// validateOneBotSettings validates the chat host connection
func validateOneBotSettings(s *Settings) error {
	u, err := url.Parse(s.OneBot.URL)
	if err != nil {
		return fmt.Errorf("onebot.url is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("onebot.url must use ws:// or wss://, got %q", s.OneBot.URL)
	}
	if s.OneBot.RateLimit <= 0 || s.OneBot.RateBurst < 1 {
		return fmt.Errorf("onebot.ratelimit and onebot.rateburst must be positive")
	}
	return nil
}

// validateMQTTSettings validates the MQTT settings
func validateMQTTSettings(s *Settings) error {
	if !s.MQTT.Enabled {
		return nil
	}
	if s.MQTT.Broker == "" {
		return fmt.Errorf("MQTT is enabled but broker URL is not set")
	}
	if s.MQTT.Topic == "" {
		return fmt.Errorf("MQTT is enabled but topic is not set")
	}
	return nil
}

// validateTelemetrySettings validates the metrics endpoint settings
func validateTelemetrySettings(s *Settings) error {
	if s.Telemetry.Enabled && s.Telemetry.Listen == "" {
		return fmt.Errorf("telemetry is enabled but listen address is not set")
	}
	return nil
}
