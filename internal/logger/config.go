package logger

import "path/filepath"

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Timezone      string                  `yaml:"timezone" json:"timezone"`           // "Local", "UTC", or IANA timezone name like "Asia/Shanghai"
	DefaultLevel  string                  `yaml:"default_level" json:"default_level"` // default log level for all modules
	Console       *ConsoleOutput          `yaml:"console" json:"console"`             // console output configuration
	FileOutput    *FileOutput             `yaml:"file_output" json:"file_output"`     // file output configuration
	ModuleOutputs map[string]ModuleOutput `yaml:"modules" json:"modules"`             // per-module output configuration
	ModuleLevels  map[string]string       `yaml:"module_levels" json:"module_levels"` // per-module log levels
}

// ConsoleOutput represents console logging configuration.
// Console output uses human-readable text format without timestamps;
// the execution environment (journald, Docker) adds them.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Level   string `yaml:"level" json:"level"`
}

// FileOutput represents file logging configuration.
// File output uses JSON format with RFC3339 timestamps for machine parsing.
type FileOutput struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Level   string `yaml:"level" json:"level"`
}

// ModuleOutput represents per-module output configuration
type ModuleOutput struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`           // enable module-specific output
	FilePath    string `yaml:"file_path" json:"file_path"`       // dedicated file path for this module
	Level       string `yaml:"level" json:"level"`               // log level override for this module
	ConsoleAlso bool   `yaml:"console_also" json:"console_also"` // also log to console
}

// Default values for logging configuration.
const (
	DefaultLogLevel          = "info"
	DefaultLogPath           = "logs/nailong.log"
	DefaultModerationLogPath = "logs/moderation.log"
	DefaultOneBotLogPath     = "logs/onebot.log"
	DefaultConsoleEnabled    = true
	DefaultFileEnabled       = true
)

// ensureModuleOutput adds a default module output configuration if not already present.
func ensureModuleOutput(cfg *LoggingConfig, module, filePath string) {
	if _, exists := cfg.ModuleOutputs[module]; !exists {
		cfg.ModuleOutputs[module] = ModuleOutput{
			Enabled:     true,
			FilePath:    filePath,
			Level:       DefaultLogLevel,
			ConsoleAlso: true,
		}
	}
}

// applyConfigDefaults fills nil configuration sections so that a config file
// without explicit console or file_output sections still logs to both.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg == nil {
		return
	}

	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}

	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{
			Enabled: DefaultConsoleEnabled,
			Level:   DefaultLogLevel,
		}
	}

	if cfg.FileOutput == nil {
		cfg.FileOutput = &FileOutput{
			Enabled: DefaultFileEnabled,
			Path:    DefaultLogPath,
			Level:   DefaultLogLevel,
		}
	}

	if cfg.ModuleOutputs == nil {
		cfg.ModuleOutputs = make(map[string]ModuleOutput)
	}

	if !cfg.FileOutput.Enabled {
		return
	}

	// Moderation actions form an audit trail and get their own file next to
	// the main log. Two modules must not share a path since every module
	// output opens its own buffered writer.
	logDir := filepath.Dir(cfg.FileOutput.Path)
	ensureModuleOutput(cfg, "moderation", filepath.Join(logDir, filepath.Base(DefaultModerationLogPath)))
	ensureModuleOutput(cfg, "onebot", filepath.Join(logDir, filepath.Base(DefaultOneBotLogPath)))
}
