package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"gorgonia.org/tensor"
)

// ErrShapeMismatch reports a model whose output width disagrees with the
// disease catalog.
var ErrShapeMismatch = errors.New("model output does not match catalog")

// Provider runs the classifier. Infer receives a [1, 3, H, W] tensor and
// returns one probability per catalog code, already passed through the
// model's sigmoid. Implementations must be safe for concurrent use.
type Provider interface {
	Infer(ctx context.Context, input *tensor.Dense) ([]float32, error)
	Close() error
}

// Metadata describes the exported model graph.
type Metadata struct {
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes,omitempty"`
	ImageSize   int      `json:"image_size"`
}

// LoadMetadata reads model metadata from a JSON file and fills defaults.
func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	if meta.InputName == "" {
		meta.InputName = "input"
	}
	if meta.OutputName == "" {
		meta.OutputName = "output"
	}
	if len(meta.InputShape) != 4 {
		return Metadata{}, fmt.Errorf("input_shape must have 4 dimensions, got %v", meta.InputShape)
	}
	if meta.InputShape[1] > 0 && meta.InputShape[1] != 3 {
		return Metadata{}, fmt.Errorf("input_shape must have 3 channels, got %v", meta.InputShape)
	}
	if len(meta.OutputShape) == 0 {
		return Metadata{}, errors.New("output_shape is missing")
	}
	if meta.OutputSize() <= 0 {
		return Metadata{}, fmt.Errorf("output_shape must declare a fixed class count, got %v", meta.OutputShape)
	}
	return meta, nil
}

// OutputSize is the number of scores the model produces per image.
func (m Metadata) OutputSize() int {
	return int(m.OutputShape[len(m.OutputShape)-1])
}

// InputSize returns the image height and width the model takes. Dynamic
// spatial dimensions fall back to image_size; zeros mean unknown.
func (m Metadata) InputSize() (height, width int) {
	height, width = int(m.InputShape[2]), int(m.InputShape[3])
	if height > 0 && width > 0 {
		return height, width
	}
	if m.ImageSize > 0 {
		return m.ImageSize, m.ImageSize
	}
	return 0, 0
}

// Validate checks the metadata against the ordered catalog codes. A
// mismatch must stop the service before it takes traffic.
func (m Metadata) Validate(codes []string) error {
	if m.OutputSize() != len(codes) {
		return fmt.Errorf("%w: model outputs %d scores, catalog has %d codes",
			ErrShapeMismatch, m.OutputSize(), len(codes))
	}
	if len(m.Classes) > 0 && !slices.Equal(m.Classes, codes) {
		return fmt.Errorf("%w: metadata classes %v differ from catalog %v",
			ErrShapeMismatch, m.Classes, codes)
	}
	return nil
}

// MatchShape reports whether got satisfies want. Non-positive entries in
// want are dynamic dimensions and match any size.
func MatchShape(want, got []int64) bool {
	if len(want) != len(got) {
		return false
	}
	for i, d := range want {
		if d > 0 && d != got[i] {
			return false
		}
	}
	return true
}

// ResolveShape replaces dynamic dimensions with 1, the size of a single
// image batch.
func ResolveShape(dims []int64) []int64 {
	out := make([]int64, len(dims))
	for i, d := range dims {
		if d <= 0 {
			d = 1
		}
		out[i] = d
	}
	return out
}

// Int64Shape converts a tensor shape to the form onnxruntime expects.
func Int64Shape(dims []int) []int64 {
	out := make([]int64, len(dims))
	for i, d := range dims {
		out[i] = int64(d)
	}
	return out
}
