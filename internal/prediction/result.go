package prediction

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Brownie44l1/retina-api/internal/model"
)

// DefaultThreshold is the probability a disease must exceed to be
// reported as detected.
const DefaultThreshold float32 = 0.5

// Config holds the shaping constants.
type Config struct {
	Threshold float32
}

// DefaultConfig returns the fixed production configuration.
func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold}
}

// Record is the prediction for one disease code.
type Record struct {
	Probability float32 `json:"probability"`
	Detected    bool    `json:"detected"`
	FullName    string  `json:"full_name"`
}

// Result holds exactly one Record per catalog code. It encodes as a JSON
// object whose keys follow catalog order.
type Result struct {
	codes   []string
	records map[string]Record
}

// Shape zips codes with probs positionally. name resolves display names;
// a record is detected when its probability is strictly above threshold.
func Shape(codes []string, probs []float32, name func(string) string, threshold float32) (*Result, error) {
	if len(codes) != len(probs) {
		return nil, newError(KindShapeMismatch,
			fmt.Errorf("%w: model returned %d probabilities for %d catalog codes",
				model.ErrShapeMismatch, len(probs), len(codes)))
	}

	res := &Result{
		codes:   make([]string, len(codes)),
		records: make(map[string]Record, len(codes)),
	}
	copy(res.codes, codes)
	for i, code := range codes {
		p := probs[i]
		res.records[code] = Record{
			Probability: p,
			Detected:    p > threshold,
			FullName:    name(code),
		}
	}
	return res, nil
}

// Len is the number of records.
func (r *Result) Len() int {
	return len(r.codes)
}

// Codes returns the codes in catalog order.
func (r *Result) Codes() []string {
	out := make([]string, len(r.codes))
	copy(out, r.codes)
	return out
}

// Get returns the record for code.
func (r *Result) Get(code string) (Record, bool) {
	rec, ok := r.records[code]
	return rec, ok
}

// Records returns a copy of the code to record mapping.
func (r *Result) Records() map[string]Record {
	out := make(map[string]Record, len(r.records))
	for k, v := range r.records {
		out[k] = v
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (r *Result) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, code := range r.codes {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(code)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.records[code])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler. Key order from the document
// is kept.
func (r *Result) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("prediction result must be a JSON object")
	}

	r.codes = nil
	r.records = make(map[string]Record)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		code := tok.(string)
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return fmt.Errorf("record %q: %w", code, err)
		}
		if _, dup := r.records[code]; !dup {
			r.codes = append(r.codes, code)
		}
		r.records[code] = rec
	}
	_, err = dec.Token()
	return err
}
