package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/Brownie44l1/retina-api/internal/catalog"
	"github.com/Brownie44l1/retina-api/internal/model"
	"github.com/Brownie44l1/retina-api/internal/preprocess"
)

type stubProvider struct {
	probs []float32
	err   error
	calls int
	shape []int
}

func (p *stubProvider) Infer(_ context.Context, input *tensor.Dense) ([]float32, error) {
	p.calls++
	p.shape = input.Shape().Clone()
	if p.err != nil {
		return nil, p.err
	}
	return p.probs, nil
}

func (p *stubProvider) Close() error { return nil }

type countingRecorder struct {
	mu         sync.Mutex
	inferences int
	outcomes   map[string]int
	detections map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{outcomes: map[string]int{}, detections: map[string]int{}}
}

func (r *countingRecorder) ObserveInference(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inferences++
}

func (r *countingRecorder) ObserveOutcome(o string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[o]++
}

func (r *countingRecorder) ObserveDetection(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detections[code]++
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x), uint8(y), 90, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestService(t *testing.T, codes []string, provider model.Provider, rec Recorder) *Service {
	t.Helper()
	cat, err := catalog.New(codes)
	require.NoError(t, err)
	return NewService(provider, cat, preprocess.New(preprocess.DefaultConfig()), DefaultConfig(), rec)
}

func TestShapeThreshold(t *testing.T) {
	codes := []string{"DR", "ARMD", "MH", "ODC", "TSLN"}
	probs := []float32{0.5, 0.5000001, 0.4999999, 1, 0}

	res, err := Shape(codes, probs, catalog.FullName, DefaultThreshold)
	require.NoError(t, err)

	want := map[string]bool{"DR": false, "ARMD": true, "MH": false, "ODC": true, "TSLN": false}
	for code, detected := range want {
		rec, ok := res.Get(code)
		require.True(t, ok, code)
		assert.Equal(t, detected, rec.Detected, code)
	}
}

func TestShapeOneRecordPerCode(t *testing.T) {
	codes := []string{"NORMAL", "DR", "Disease_Risk"}
	res, err := Shape(codes, []float32{0.1, 0.7, 0.3}, catalog.FullName, DefaultThreshold)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Len())
	assert.Equal(t, codes, res.Codes())
	assert.Len(t, res.Records(), 3)

	rec, _ := res.Get("Disease_Risk")
	assert.Equal(t, "Disease_Risk", rec.FullName)
	rec, _ = res.Get("NORMAL")
	assert.Equal(t, "Normal Retina", rec.FullName)
	assert.InDelta(t, 0.1, rec.Probability, 1e-6)

	_, ok := res.Get("MH")
	assert.False(t, ok)
}

func TestShapeLengthMismatch(t *testing.T) {
	_, err := Shape([]string{"DR", "MH"}, []float32{0.3}, catalog.FullName, DefaultThreshold)
	require.Error(t, err)
	assert.Equal(t, KindShapeMismatch, KindOf(err))
	assert.ErrorIs(t, err, model.ErrShapeMismatch)
}

func TestResultJSONFollowsCatalogOrder(t *testing.T) {
	res, err := Shape([]string{"MH", "ARMD", "DR"}, []float32{0.25, 0.75, 0.5}, catalog.FullName, DefaultThreshold)
	require.NoError(t, err)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"MH": {"probability": 0.25, "detected": false, "full_name": "Macular Hole"},
		"ARMD": {"probability": 0.75, "detected": true, "full_name": "Age-related Macular Degeneration"},
		"DR": {"probability": 0.5, "detected": false, "full_name": "Diabetic Retinopathy"}
	}`, string(raw))
	assert.Less(t, bytes.Index(raw, []byte(`"MH"`)), bytes.Index(raw, []byte(`"ARMD"`)))
	assert.Less(t, bytes.Index(raw, []byte(`"ARMD"`)), bytes.Index(raw, []byte(`"DR"`)))

	var decoded Result
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, res.Codes(), decoded.Codes())
	assert.Equal(t, res.Records(), decoded.Records())
}

func TestResultUnmarshalRejectsNonObject(t *testing.T) {
	var r Result
	assert.Error(t, json.Unmarshal([]byte(`[1, 2]`), &r))
}

func TestRankAndDetected(t *testing.T) {
	res, err := Shape([]string{"DR", "ARMD", "MH", "ODC"}, []float32{0.6, 0.2, 0.9, 0.6}, catalog.FullName, DefaultThreshold)
	require.NoError(t, err)

	var ranked []string
	for _, e := range res.Rank() {
		ranked = append(ranked, e.Code)
	}
	assert.Equal(t, []string{"MH", "DR", "ODC", "ARMD"}, ranked)

	var detected []string
	for _, e := range res.Detected() {
		detected = append(detected, e.Code)
	}
	assert.Equal(t, []string{"MH", "DR", "ODC"}, detected)
}

func TestWriteReport(t *testing.T) {
	res, err := Shape([]string{"DR", "ARMD", "MH"}, []float32{0.75, 0.1, 0.9}, catalog.FullName, DefaultThreshold)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, res))
	out := buf.String()

	assert.Contains(t, out, "* Macular Hole (Confidence: 90.00%)")
	assert.Contains(t, out, "* Diabetic Retinopathy (Confidence: 75.00%)")
	assert.NotContains(t, out, "* Age-related Macular Degeneration")
	assert.Less(t, strings.Index(out, "* Macular Hole"), strings.Index(out, "* Diabetic Retinopathy"))

	analysis := out[strings.Index(out, "Detailed Analysis:"):]
	assert.Contains(t, analysis, "Age-related Macular Degeneration:\n  Confidence: 10.00%")

	none, err := Shape([]string{"DR"}, []float32{0.5}, catalog.FullName, DefaultThreshold)
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, WriteReport(&buf, none))
	assert.Contains(t, buf.String(), "No diseases were detected in the image.")
}

func TestServicePredict(t *testing.T) {
	codes := []string{"DR", "ARMD", "MH", "ODC"}
	provider := &stubProvider{probs: []float32{0.9, 0.1, 0.6, 0.3}}
	rec := newCountingRecorder()
	svc := newTestService(t, codes, provider, rec)

	res, err := svc.Predict(context.Background(), pngBytes(t, 512, 512))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3, 224, 224}, provider.shape)
	assert.Equal(t, codes, res.Codes())

	expect := []struct {
		code     string
		prob     float32
		detected bool
	}{
		{"DR", 0.9, true},
		{"ARMD", 0.1, false},
		{"MH", 0.6, true},
		{"ODC", 0.3, false},
	}
	for _, e := range expect {
		r, ok := res.Get(e.code)
		require.True(t, ok)
		assert.InDelta(t, e.prob, r.Probability, 1e-6, e.code)
		assert.Equal(t, e.detected, r.Detected, e.code)
	}

	assert.Equal(t, 1, rec.inferences)
	assert.Equal(t, 1, rec.outcomes["success"])
	assert.Equal(t, map[string]int{"DR": 1, "MH": 1}, rec.detections)
}

func TestServicePredictErrors(t *testing.T) {
	t.Run("decode", func(t *testing.T) {
		provider := &stubProvider{probs: []float32{0.1}}
		rec := newCountingRecorder()
		svc := newTestService(t, []string{"DR"}, provider, rec)

		res, err := svc.Predict(context.Background(), []byte("not an image"))
		require.Error(t, err)
		assert.Nil(t, res)
		assert.Equal(t, KindDecode, KindOf(err))
		assert.NotEmpty(t, err.Error())
		assert.Zero(t, provider.calls)
		assert.Equal(t, 1, rec.outcomes["decode_error"])
	})

	t.Run("inference", func(t *testing.T) {
		boom := errors.New("device lost")
		svc := newTestService(t, []string{"DR"}, &stubProvider{err: boom}, nil)

		_, err := svc.Predict(context.Background(), pngBytes(t, 20, 10))
		require.Error(t, err)
		assert.Equal(t, KindInference, KindOf(err))
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, "device lost", err.Error())
	})

	t.Run("shape mismatch", func(t *testing.T) {
		svc := newTestService(t, []string{"DR", "MH"}, &stubProvider{probs: []float32{0.1}}, nil)

		_, err := svc.Predict(context.Background(), pngBytes(t, 20, 10))
		require.Error(t, err)
		assert.Equal(t, KindShapeMismatch, KindOf(err))
	})
}

func TestServiceVerify(t *testing.T) {
	ok := newTestService(t, []string{"DR", "MH"}, &stubProvider{probs: []float32{0, 0}}, nil)
	assert.NoError(t, ok.Verify(context.Background()))

	short := newTestService(t, []string{"DR", "MH"}, &stubProvider{probs: []float32{0}}, nil)
	err := short.Verify(context.Background())
	assert.Equal(t, KindShapeMismatch, KindOf(err))
	assert.ErrorIs(t, err, model.ErrShapeMismatch)

	broken := newTestService(t, []string{"DR"}, &stubProvider{err: errors.New("no device")}, nil)
	assert.Equal(t, KindInference, KindOf(broken.Verify(context.Background())))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "decode_error", KindDecode.String())
	assert.Equal(t, "shape_mismatch", KindShapeMismatch.String())
	assert.Equal(t, "inference_error", KindInference.String())
	assert.Equal(t, "unknown_error", KindOf(errors.New("plain")).String())
}
