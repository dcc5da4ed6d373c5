package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validSettings returns settings that pass validation
func validSettings() *Settings {
	return &Settings{
		Main: MainSettings{DataDir: "data", TempDir: "tmp"},
		Detector: DetectorSettings{
			Backend:         BackendTFLite,
			ModelPath:       "model/nailong.tflite",
			InputSize:       DefaultInputSize,
			Labels:          []string{DefaultPositiveLabel},
			PositiveLabel:   DefaultPositiveLabel,
			ConfidenceFloor: DefaultConfidenceFloor,
			IoUThreshold:    DefaultIoUThreshold,
			Trigger:         DefaultTrigger,
		},
		Moderation: ModerationSettings{
			BanCooldown: DefaultBanCooldown,
			BanDuration: DefaultBanDuration,
		},
		Commands: CommandSettings{Start: ".nailostart", Stop: ".nailostop", Check: "检测", MyTimes: "我的奶龙"},
		Storage:  StorageSettings{Type: StorageJSON},
		Fetch:    FetchSettings{Concurrency: 2, MaxBytes: 1 << 20},
		OneBot:   OneBotSettings{URL: "ws://127.0.0.1:3001", RateLimit: 5, RateBurst: 1},
	}
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"unknown backend", func(s *Settings) { s.Detector.Backend = "onnx" }, "detector.backend"},
		{"remote without url", func(s *Settings) {
			s.Detector.Backend = BackendRemote
			s.Detector.Remote.Model = "nailong"
		}, "detector.remote.url"},
		{"trigger above one", func(s *Settings) { s.Detector.Trigger = 1.2 }, "detector.trigger"},
		{"positive label missing", func(s *Settings) { s.Detector.PositiveLabel = "cat" }, "positivelabel"},
		{"zero ban duration", func(s *Settings) { s.Moderation.BanDuration = 0 }, "banduration"},
		{"sub-second ban duration", func(s *Settings) { s.Moderation.BanDuration = 500 * time.Millisecond }, "banduration"},
		{"duplicate commands", func(s *Settings) { s.Commands.Check = s.Commands.Start }, "duplicates"},
		{"empty command", func(s *Settings) { s.Commands.MyTimes = "  " }, "commands.mytimes"},
		{"sqlite without path", func(s *Settings) { s.Storage.Type = StorageSQLite }, "storage.path"},
		{"http onebot url", func(s *Settings) { s.OneBot.URL = "http://127.0.0.1:3001" }, "ws://"},
		{"mqtt without broker", func(s *Settings) {
			s.MQTT.Enabled = true
			s.MQTT.Topic = "t"
		}, "broker"},
		{"telemetry without listen", func(s *Settings) { s.Telemetry.Enabled = true }, "listen"},
		{"zero concurrency", func(s *Settings) { s.Fetch.Concurrency = 0 }, "fetch.concurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tt.mutate(s)

			err := ValidateSettings(s)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidationErrorCollectsAll(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Detector.Backend = "x"
	s.Storage.Type = "y"
	s.Fetch.Concurrency = 0

	err := ValidateSettings(s)
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 3)
}
