package guard

import (
	"github.com/tphakala/nailong-guard/internal/conf"
	"github.com/tphakala/nailong-guard/internal/detection"
	"github.com/tphakala/nailong-guard/internal/errors"
	"github.com/tphakala/nailong-guard/internal/httpclient"
	"github.com/tphakala/nailong-guard/internal/inference"
)

// Inference backends.
const (
	BackendTFLite = "tflite"
	BackendRemote = "remote"
)

// NewInferencer creates the inference backend selected in settings.
func NewInferencer(settings *conf.Settings) (detection.Inferencer, error) {
	d := settings.Detector
	switch d.Backend {
	case BackendTFLite, "":
		t, err := inference.NewTFLite(inference.TFLiteConfig{
			ModelPath:       d.ModelPath,
			Threads:         d.Threads,
			InputSize:       d.InputSize,
			NormalizedBoxes: d.NormalizedBoxes,
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	case BackendRemote:
		client := httpclient.New(&httpclient.Config{
			DefaultTimeout: d.Remote.Timeout,
			UserAgent:      settings.Fetch.UserAgent,
		})
		r, err := inference.NewRemote(client, inference.RemoteConfig{
			URL:             d.Remote.URL,
			Model:           d.Remote.Model,
			InputName:       d.Remote.InputName,
			OutputName:      d.Remote.OutputName,
			Timeout:         d.Remote.Timeout,
			InputSize:       d.InputSize,
			NormalizedBoxes: d.NormalizedBoxes,
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, errors.Newf("unknown detector backend %q", d.Backend).
			Component("guard").
			Category(errors.CategoryConfiguration).
			Context("backend", d.Backend).
			Build()
	}
}

// DetectorConfig maps settings onto the detection pipeline config. Zero
// values keep the pipeline defaults.
func DetectorConfig(settings *conf.Settings) detection.Config {
	d := settings.Detector
	cfg := detection.DefaultConfig()

	cfg.Model.Backend = d.Backend
	if cfg.Model.Backend == "" {
		cfg.Model.Backend = BackendTFLite
	}
	if d.Backend == BackendRemote && d.Remote.Model != "" {
		cfg.Model.Name = d.Remote.Model
	}
	if d.InputSize > 0 {
		cfg.Model.InputSize = d.InputSize
	}
	if len(d.Labels) > 0 {
		cfg.Model.Labels = d.Labels
	}
	if d.ConfidenceFloor > 0 {
		cfg.ConfidenceFloor = d.ConfidenceFloor
	}
	if d.IoUThreshold > 0 {
		cfg.IoUThreshold = d.IoUThreshold
	}
	if d.Trigger > 0 {
		cfg.Trigger = d.Trigger
	}
	if d.PositiveLabel != "" {
		cfg.Style.PositiveLabel = d.PositiveLabel
	}
	if d.IgnoredLabel != "" {
		cfg.Style.IgnoredLabel = d.IgnoredLabel
	}
	return cfg
}
