// config.go: settings struct for nailong-guard and the functions to load and save it.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/nailong-guard/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// MainSettings contains process level settings.
type MainSettings struct {
	Name    string // instance name, used as MQTT client id suffix and in logs
	DataDir string // directory holding whitelist.json, user_info.json and the legacy config.json
	TempDir string // directory for annotated images, swept on shutdown
}

// LogSettings contains logging settings.
type LogSettings struct {
	Level        string            // default log level: trace, debug, info, warn, error
	Timezone     string            // "Local", "UTC" or IANA name
	Console      bool              // log human-readable text to stdout
	File         bool              // log JSON to Path
	Path         string            // main log file
	ModuleLevels map[string]string // per-module level overrides
}

// DetectorSettings contains settings for the detection pipeline.
type DetectorSettings struct {
	Backend         string   // "tflite" or "remote"
	ModelPath       string   // path to the .tflite model for the tflite backend
	Threads         int      // interpreter threads, 0 = runtime.NumCPU
	NormalizedBoxes bool     // model emits box geometry in 0..1 instead of input pixels
	InputSize       int      // square model input side in pixels
	Labels          []string // class labels in model output order
	PositiveLabel   string   // label that counts toward moderation
	IgnoredLabel    string   // label never rendered
	ConfidenceFloor float32  // candidates below this are dropped at decode
	IoUThreshold    float32  // suppression threshold
	Trigger         float32  // confidence a detection needs to qualify
	Remote          RemoteInferenceSettings
}

// RemoteInferenceSettings configures an inference server speaking the KServe v2 REST protocol.
type RemoteInferenceSettings struct {
	URL        string        // base URL, e.g. http://triton:8000
	Model      string        // model name
	InputName  string        // input tensor name
	OutputName string        // output tensor name
	Timeout    time.Duration // request timeout
}

// ModerationSettings contains the enforcement policy.
type ModerationSettings struct {
	ReplyWithConfidence bool          // append the similarity to replies
	DeleteMessage       bool          // delete offending messages
	BanCooldown         time.Duration // repeat offenses inside this window escalate to a mute
	BanDuration         time.Duration // mute length
	DeleteDelay         time.Duration // wait between reply and delete
	ArtifactGrace       time.Duration // wait before deleting sent annotated images
	Admins              []int64       // user ids allowed to run start/stop
	TrustGroupAdmins    bool          // also accept group owners and admins
	ShutdownTimeout     time.Duration // max wait for in-flight handlers at shutdown
}

// CommandSettings contains the recognized command texts.
type CommandSettings struct {
	Start   string
	Stop    string
	Check   string
	MyTimes string
}

// MessageSettings contains reply texts.
type MessageSettings struct {
	Start string
	Stop  string
	Reply string
	Ban   string
}

// StorageSettings selects the persistence backend.
type StorageSettings struct {
	Type          string        // "json" or "sqlite"
	Path          string        // sqlite database file
	FlushInterval time.Duration // how often changed tables are saved, 0 = only at shutdown
}

// FetchSettings contains image download settings.
type FetchSettings struct {
	Timeout     time.Duration // per request timeout
	MaxBytes    int64         // largest accepted image
	Concurrency int           // parallel downloads per message
	CacheTTL    time.Duration // how long downloaded bytes are reused
	UserAgent   string
}

// OneBotSettings contains the chat host connection settings.
type OneBotSettings struct {
	URL            string        // forward WebSocket endpoint, e.g. ws://127.0.0.1:3001
	AccessToken    string        // sent as a Bearer token
	ActionTimeout  time.Duration // wait for an action response
	RateLimit      float64       // outbound actions per second
	RateBurst      int
	ReconnectDelay time.Duration // initial reconnect backoff
}

// MQTTSettings contains settings for MQTT integration.
type MQTTSettings struct {
	Enabled  bool   // true to publish moderation events
	Broker   string // MQTT (tcp://host:port)
	Topic    string // MQTT topic
	Username string // MQTT username
	Password string // MQTT password
	Retain   bool   // publish with retain flag
}

// TelemetrySettings contains settings for telemetry.
type TelemetrySettings struct {
	Enabled bool   // true to enable Prometheus compatible telemetry endpoint
	Listen  string // IP address and port to listen on
}

// SentrySettings contains error reporting settings.
type SentrySettings struct {
	Enabled bool
	DSN     string
}

// Settings contains all configuration options for nailong-guard.
type Settings struct {
	Debug bool // true to enable debug mode

	Main       MainSettings
	Log        LogSettings
	Detector   DetectorSettings
	Moderation ModerationSettings
	Commands   CommandSettings
	Messages   MessageSettings
	Storage    StorageSettings
	Fetch      FetchSettings
	OneBot     OneBotSettings
	MQTT       MQTTSettings
	Telemetry  TelemetrySettings
	Sentry     SentrySettings
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
	configFile       string
)

// SetConfigFile makes Load read the given file instead of searching the default paths.
func SetConfigFile(path string) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	configFile = path
}

// Load reads the configuration file, environment variables and the legacy
// plugin config.json into a new Settings instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ApplyLegacyConfig(settings, filepath.Join(settings.Main.DataDir, LegacyConfigFile)); err != nil {
		return nil, fmt.Errorf("error applying legacy config: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		GetLogger().Warn("environment variable problems", logger.Error(err))
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config into dir and reads it back
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	defaultConfig, err := getDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, defaultConfig, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	return data, nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath. It overwrites the existing
// file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	// Write to a temporary file in the same directory and rename it into place
	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		// Cross-device rename, fall back to copy & delete
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}

// LoggingConfig converts the log section into the logger package configuration.
func (s *Settings) LoggingConfig() *logger.LoggingConfig {
	level := s.Log.Level
	if s.Debug {
		level = "debug"
	}
	return &logger.LoggingConfig{
		Timezone:     s.Log.Timezone,
		DefaultLevel: level,
		Console: &logger.ConsoleOutput{
			Enabled: s.Log.Console,
			Level:   level,
		},
		FileOutput: &logger.FileOutput{
			Enabled: s.Log.File,
			Path:    s.Log.Path,
			Level:   level,
		},
		ModuleLevels: s.Log.ModuleLevels,
	}
}

// WhitelistPath returns the JSON whitelist file inside the data directory.
func (s *Settings) WhitelistPath() string {
	return filepath.Join(s.Main.DataDir, "whitelist.json")
}

// RecordsPath returns the JSON moderation record file inside the data directory.
func (s *Settings) RecordsPath() string {
	return filepath.Join(s.Main.DataDir, "user_info.json")
}

// TempPath returns the directory for annotated images. A relative TempDir is
// resolved inside the data directory.
func (s *Settings) TempPath() string {
	if filepath.IsAbs(s.Main.TempDir) {
		return s.Main.TempDir
	}
	return filepath.Join(s.Main.DataDir, s.Main.TempDir)
}
