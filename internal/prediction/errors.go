package prediction

import "errors"

// Kind classifies prediction failures. Callers that only need the
// transport contract can ignore it; every kind maps to the same 500.
type Kind int

const (
	KindUnknown Kind = iota
	// KindDecode means the upload is not a readable image.
	KindDecode
	// KindShapeMismatch means the catalog and the model output disagree.
	KindShapeMismatch
	// KindInference means the model failed to run.
	KindInference
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode_error"
	case KindShapeMismatch:
		return "shape_mismatch"
	case KindInference:
		return "inference_error"
	default:
		return "unknown_error"
	}
}

// Error tags an underlying failure with its Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}
