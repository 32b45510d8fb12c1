package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrCanceled is returned when the context ends at a yield point.
var ErrCanceled = errors.New("export canceled")

// failure is the shared body of the typed export errors.
type failure struct {
	Reason string
	Err    error
}

func (f *failure) Error() string {
	if f.Err == nil {
		return f.Reason
	}
	return fmt.Sprintf("%s: %v", f.Reason, f.Err)
}

func (f *failure) Unwrap() error { return f.Err }

// ConfigurationError: empty conversation or invalid settings.
type ConfigurationError struct{ failure }

// RenderError: a frame could not be rasterized or allocated.
type RenderError struct{ failure }

// EncodeError: the video writer could not start, accept a frame or finish,
// or muxing failed.
type EncodeError struct{ failure }

// AudioError: the waveform could not be produced or serialized.
type AudioError struct{ failure }

// IOError: temporary files or the final artifact could not be written or moved.
type IOError struct{ failure }

func configErr(reason string, err error) error { return &ConfigurationError{failure{reason, err}} }
func renderErr(reason string, err error) error { return &RenderError{failure{reason, err}} }
func encodeErr(reason string, err error) error { return &EncodeError{failure{reason, err}} }
func audioErr(reason string, err error) error { return &AudioError{failure{reason, err}} }
func ioErr(reason string, err error) error { return &IOError{failure{reason, err}} }

func canceled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCanceled, context.Cause(ctx))
}

// ExportError is the user-visible message for a failed export.
func ExportError(err error) string {
	if err == nil {
		return ""
	}
	return "export failed: " + err.Error()
}

// Kind names the error class for logs, metrics and API responses.
func Kind(err error) string {
	var (
		ce *ConfigurationError
		re *RenderError
		ee *EncodeError
		ae *AudioError
		ie *IOError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCanceled):
		return "canceled"
	case errors.As(err, &ce):
		return "configuration"
	case errors.As(err, &re):
		return "render"
	case errors.As(err, &ee):
		return "encode"
	case errors.As(err, &ae):
		return "audio"
	case errors.As(err, &ie):
		return "io"
	}
	return "unknown"
}
