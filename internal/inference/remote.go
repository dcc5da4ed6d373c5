package inference

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/tphakala/nailong-guard/internal/detection"
	"github.com/tphakala/nailong-guard/internal/errors"
	"github.com/tphakala/nailong-guard/internal/httpclient"
)

// RemoteConfig configures a KServe v2 inference server (Triton, KServe,
// OpenVINO Model Server).
type RemoteConfig struct {
	URL             string        // base URL, e.g. http://triton:8000
	Model           string        // model name
	InputName       string        // input tensor name
	OutputName      string        // output tensor name, empty = first output
	Timeout         time.Duration // per request
	InputSize       int
	NormalizedBoxes bool
}

// v2Tensor is a tensor in the KServe v2 JSON protocol.
type v2Tensor struct {
	Name     string    `json:"name"`
	Shape    []int     `json:"shape"`
	Datatype string    `json:"datatype"`
	Data     []float32 `json:"data"`
}

type v2Output struct {
	Name string `json:"name"`
}

type v2Request struct {
	Inputs  []v2Tensor `json:"inputs"`
	Outputs []v2Output `json:"outputs,omitempty"`
}

type v2Response struct {
	ModelName string     `json:"model_name"`
	Outputs   []v2Tensor `json:"outputs"`
	Error     string     `json:"error,omitempty"`
}

// Remote sends tensors to an inference server. It holds no per-call state and
// is safe for concurrent use.
type Remote struct {
	client   *httpclient.Client
	endpoint string
	cfg      RemoteConfig
}

var _ detection.Inferencer = (*Remote)(nil)

// NewRemote validates cfg and builds the infer endpoint URL.
func NewRemote(client *httpclient.Client, cfg RemoteConfig) (*Remote, error) {
	if client == nil {
		client = httpclient.New(nil)
	}
	base, err := url.Parse(cfg.URL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Newf("invalid inference server URL %q", cfg.URL).
			Component("inference").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Model == "" {
		return nil, errors.Newf("inference model name is empty").
			Component("inference").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.InputName == "" {
		cfg.InputName = "images"
	}

	endpoint := base.JoinPath("v2", "models", cfg.Model, "infer")
	return &Remote{
		client:   client,
		endpoint: endpoint.String(),
		cfg:      cfg,
	}, nil
}

// Infer posts input as FP32 and decodes the selected output tensor.
func (r *Remote) Infer(ctx context.Context, input detection.Tensor) (detection.Output, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	req := v2Request{
		Inputs: []v2Tensor{{
			Name:     r.cfg.InputName,
			Shape:    input.Shape,
			Datatype: "FP32",
			Data:     input.Data,
		}},
	}
	if r.cfg.OutputName != "" {
		req.Outputs = []v2Output{{Name: r.cfg.OutputName}}
	}

	var resp v2Response
	if err := r.client.PostJSON(ctx, r.endpoint, req, &resp); err != nil {
		return detection.Output{}, errors.New(err).
			Component("inference").
			Category(errors.CategoryInference).
			Context("backend", "remote").
			Build()
	}
	if resp.Error != "" {
		return detection.Output{}, inferenceErrorf("server error: %s", resp.Error)
	}

	tensor, err := r.selectOutput(resp.Outputs)
	if err != nil {
		return detection.Output{}, err
	}
	if !strings.EqualFold(tensor.Datatype, "FP32") {
		return detection.Output{}, inferenceErrorf("output %q has datatype %s, want FP32", tensor.Name, tensor.Datatype)
	}

	out, err := outputFromShape(tensor.Shape, tensor.Data)
	if err != nil {
		return detection.Output{}, inferenceErrorf("%v", err)
	}
	if r.cfg.NormalizedBoxes {
		denormalizeBoxes(out, r.cfg.InputSize)
	}
	return out, nil
}

func (r *Remote) selectOutput(outputs []v2Tensor) (v2Tensor, error) {
	if len(outputs) == 0 {
		return v2Tensor{}, inferenceErrorf("response has no outputs")
	}
	if r.cfg.OutputName == "" {
		return outputs[0], nil
	}
	for _, o := range outputs {
		if o.Name == r.cfg.OutputName {
			return o, nil
		}
	}
	return v2Tensor{}, inferenceErrorf("response has no output named %q", r.cfg.OutputName)
}

// Close releases idle connections.
func (r *Remote) Close() error {
	r.client.Close()
	return nil
}

func inferenceErrorf(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("inference").
		Category(errors.CategoryInference).
		Context("backend", "remote").
		Build()
}
