// Package prediction maps uploaded fundus images to per-disease
// probabilities.
package prediction

import (
	"context"
	"fmt"
	"time"

	"github.com/chewxy/math32"
	"github.com/rs/zerolog"
	"gorgonia.org/tensor"

	"github.com/Brownie44l1/retina-api/internal/catalog"
	"github.com/Brownie44l1/retina-api/internal/model"
	"github.com/Brownie44l1/retina-api/internal/preprocess"
)

// Recorder receives prediction telemetry.
type Recorder interface {
	ObserveInference(d time.Duration)
	ObserveOutcome(outcome string)
	ObserveDetection(code string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveInference(time.Duration) {}
func (nopRecorder) ObserveOutcome(string)          {}
func (nopRecorder) ObserveDetection(string)        {}

// Service runs the decode, preprocess, infer and shape pipeline. It is
// read-only after construction and shared by all requests.
type Service struct {
	provider     model.Provider
	catalog      *catalog.Catalog
	preprocessor *preprocess.Preprocessor
	config       Config
	recorder     Recorder
}

// NewService wires a Service. A nil recorder disables telemetry.
func NewService(provider model.Provider, cat *catalog.Catalog, pre *preprocess.Preprocessor, cfg Config, recorder Recorder) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		provider:     provider,
		catalog:      cat,
		preprocessor: pre,
		config:       cfg,
		recorder:     recorder,
	}
}

// Catalog returns the disease catalog the service predicts.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// Config returns the shaping configuration.
func (s *Service) Config() Config {
	return s.config
}

// InputShape is the tensor shape handed to the provider.
func (s *Service) InputShape() []int {
	return s.preprocessor.Config().Shape()
}

// Verify runs one inference on a blank tensor and checks the output width
// against the catalog. Call it before serving traffic.
func (s *Service) Verify(ctx context.Context) error {
	shape := s.InputShape()
	size := 1
	for _, d := range shape {
		size *= d
	}
	blank := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(make([]float32, size)))

	probs, err := s.provider.Infer(ctx, blank)
	if err != nil {
		return newError(KindInference, fmt.Errorf("probe inference: %w", err))
	}
	if len(probs) != s.catalog.Len() {
		return newError(KindShapeMismatch, fmt.Errorf("%w: model outputs %d scores, catalog has %d codes",
			model.ErrShapeMismatch, len(probs), s.catalog.Len()))
	}
	return nil
}

// Predict classifies one encoded image. Errors are *Error values tagged
// with the failing stage.
func (s *Service) Predict(ctx context.Context, data []byte) (*Result, error) {
	logger := zerolog.Ctx(ctx)

	input, err := s.preprocessor.Preprocess(data)
	if err != nil {
		return nil, s.fail(newError(KindDecode, err))
	}

	start := time.Now()
	probs, err := s.provider.Infer(ctx, input)
	elapsed := time.Since(start)
	s.recorder.ObserveInference(elapsed)
	if err != nil {
		return nil, s.fail(newError(KindInference, err))
	}

	res, err := Shape(s.catalog.Codes(), probs, catalog.FullName, s.config.Threshold)
	if err != nil {
		return nil, s.fail(err)
	}

	for _, code := range res.codes {
		p := res.records[code].Probability
		if math32.IsNaN(p) || p < 0 || p > 1 {
			logger.Warn().Str("code", code).Float32("probability", p).Msg("model output outside [0, 1]")
		}
	}

	s.recorder.ObserveOutcome("success")
	detected := res.Detected()
	for _, e := range detected {
		s.recorder.ObserveDetection(e.Code)
	}

	if e := logger.Debug(); e.Enabled() {
		arr := zerolog.Arr()
		for _, d := range detected {
			arr.Dict(zerolog.Dict().Str("code", d.Code).Str("name", d.FullName).Float32("probability", d.Probability))
		}
		e.Array("detected", arr).Dur("inference", elapsed).Msg("prediction complete")

		for _, r := range res.Rank() {
			logger.Trace().Str("code", r.Code).Str("name", r.FullName).
				Float32("probability", r.Probability).Msg("detail")
		}
	}

	return res, nil
}

func (s *Service) fail(err error) error {
	s.recorder.ObserveOutcome(KindOf(err).String())
	return err
}
