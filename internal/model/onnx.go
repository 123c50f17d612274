package model

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// Compute devices accepted by ONNXConfig.Device.
const (
	DeviceAuto = "auto"
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)

// ONNXConfig configures an ONNXProvider.
type ONNXConfig struct {
	ModelPath string
	Metadata  Metadata
	// Device is one of DeviceAuto, DeviceCPU or DeviceCUDA. Auto tries
	// CUDA and falls back to the CPU.
	Device string
	// SharedLibraryPath overrides the onnxruntime library location.
	SharedLibraryPath string
}

// ONNXProvider runs an exported ONNX graph in-process. The session is
// created once and only read afterwards; every call allocates its own
// input and output tensors, so concurrent Infer calls need no locking.
type ONNXProvider struct {
	session  *ort.DynamicAdvancedSession
	metadata Metadata
	device   string
	// ownsEnv is set when this provider initialized the onnxruntime
	// environment and must tear it down.
	ownsEnv bool
}

// NewONNXProvider initializes the onnxruntime environment and loads the
// model on the configured device.
func NewONNXProvider(cfg ONNXConfig) (*ONNXProvider, error) {
	if cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
	}
	ownsEnv := false
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
		ownsEnv = true
	}

	device := cfg.Device
	if device == "" {
		device = DeviceAuto
	}

	var (
		session *ort.DynamicAdvancedSession
		err     error
	)
	switch device {
	case DeviceCPU:
		session, err = newSession(cfg, false)
	case DeviceCUDA:
		session, err = newSession(cfg, true)
	case DeviceAuto:
		session, err = newSession(cfg, true)
		if err != nil {
			log.Warn().Err(err).Msg("CUDA unavailable, falling back to CPU")
			device = DeviceCPU
			session, err = newSession(cfg, false)
		} else {
			device = DeviceCUDA
		}
	default:
		err = fmt.Errorf("unknown device %q", device)
	}
	if err != nil {
		if ownsEnv {
			if derr := ort.DestroyEnvironment(); derr != nil {
				log.Error().Err(derr).Msg("failed to destroy ONNX environment")
			}
		}
		return nil, err
	}

	log.Info().
		Str("model", cfg.ModelPath).
		Str("device", device).
		Ints64("input_shape", cfg.Metadata.InputShape).
		Ints64("output_shape", cfg.Metadata.OutputShape).
		Msg("model loaded")

	return &ONNXProvider{
		session:  session,
		metadata: cfg.Metadata,
		device:   device,
		ownsEnv:  ownsEnv,
	}, nil
}

func newSession(cfg ONNXConfig, cuda bool) (*ort.DynamicAdvancedSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("failed to set graph optimization level: %w", err)
	}

	if cuda {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("failed to create CUDA options: %w", err)
		}
		defer cudaOptions.Destroy()

		if err := cudaOptions.Update(map[string]string{"device_id": "0"}); err != nil {
			return nil, fmt.Errorf("failed to configure CUDA: %w", err)
		}
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return nil, fmt.Errorf("failed to enable CUDA: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{cfg.Metadata.InputName}, []string{cfg.Metadata.OutputName},
		options)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return session, nil
}

// Device reports where inference runs.
func (p *ONNXProvider) Device() string {
	return p.device
}

// Infer implements Provider.
func (p *ONNXProvider) Infer(ctx context.Context, input *tensor.Dense) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	shape := Int64Shape(input.Shape())
	if !MatchShape(p.metadata.InputShape, shape) {
		return nil, fmt.Errorf("input shape %v, model expects %v", shape, p.metadata.InputShape)
	}
	data, ok := input.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("input tensor has dtype %v, want float32", input.Dtype())
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(shape...), data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(ResolveShape(p.metadata.OutputShape)...))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := p.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := outputTensor.GetData()
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

// Close releases the session and the onnxruntime environment.
func (p *ONNXProvider) Close() error {
	if p.session != nil {
		if err := p.session.Destroy(); err != nil {
			return fmt.Errorf("error destroying ORT session: %w", err)
		}
		p.session = nil
	}
	if !p.ownsEnv {
		return nil
	}
	p.ownsEnv = false
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("error destroying ORT environment: %w", err)
	}
	return nil
}
