package model

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"gorgonia.org/tensor"
)

// RemoteProvider forwards normalized tensors to an inference service that
// hosts the model in another process.
type RemoteProvider struct {
	url  string
	rest *resty.Client
}

type remoteRequest struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

type remoteResponse struct {
	Probabilities []float32 `json:"probabilities"`
}

type remoteError struct {
	Detail string `json:"detail"`
}

// NewRemoteProvider creates a provider that POSTs to url.
func NewRemoteProvider(url string, timeout time.Duration) *RemoteProvider {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(30 * time.Second)
	}
	r.SetHeader("Accept", "application/json")
	return &RemoteProvider{url: url, rest: r}
}

// Infer implements Provider.
func (p *RemoteProvider) Infer(ctx context.Context, input *tensor.Dense) ([]float32, error) {
	data, ok := input.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("input tensor has dtype %v, want float32", input.Dtype())
	}

	result := &remoteResponse{}
	failure := &remoteError{}
	resp, err := p.rest.R().
		SetContext(ctx).
		SetBody(remoteRequest{Shape: input.Shape(), Data: data}).
		SetResult(result).
		SetError(failure).
		Post(p.url)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	if resp.IsError() {
		if failure.Detail != "" {
			return nil, fmt.Errorf("inference service returned %d: %s", resp.StatusCode(), failure.Detail)
		}
		return nil, fmt.Errorf("inference service returned %d", resp.StatusCode())
	}
	if len(result.Probabilities) == 0 {
		return nil, fmt.Errorf("inference service returned no probabilities")
	}
	return result.Probabilities, nil
}

// Close implements Provider.
func (p *RemoteProvider) Close() error {
	return nil
}
