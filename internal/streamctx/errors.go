package streamctx

import "github.com/pkg/errors"

var (
	// ErrCodecMismatch is returned when a configuration record does not match
	// the codec declared in the stream metadata
	ErrCodecMismatch = errors.New("codec mismatch")
	// ErrSamplingIndex is returned for an AAC sampling frequency index above 12
	ErrSamplingIndex = errors.New("invalid AAC sampling frequency index")
	// ErrUnsupportedCodec is returned when no sample entry exists for a codec
	ErrUnsupportedCodec = errors.New("unsupported codec")
	// ErrNotConfigured is returned when the header latch is set before the stream is configured
	ErrNotConfigured = errors.New("stream not configured")
	// ErrInvalidMetadata is returned for metadata values that cannot be stored
	ErrInvalidMetadata = errors.New("invalid metadata")
)

// IsConfigFault reports whether err rejects the whole stream rather than a single tag
func IsConfigFault(err error) bool {
	for _, target := range []error{ErrCodecMismatch, ErrSamplingIndex, ErrUnsupportedCodec, ErrInvalidMetadata} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
