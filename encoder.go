package hxstream

import (
	"errors"

	"github.com/pthm/hxstream/lib/encoding"
	"github.com/pthm/hxstream/lib/render"
)

// Encoder is an alias for encoding.Encoder for convenience.
type Encoder = encoding.Encoder

// ResumableState is an alias for render.ResumableState.
type ResumableState = render.ResumableState

// NewEncoder creates a new encoder with the given secret. The same secret
// signs resume tokens and derives error digests.
func NewEncoder(key []byte) (*Encoder, error) {
	return encoding.NewEncoder(key)
}

// DecodeResumeToken verifies (or, when sensitive, decrypts) a token made by
// Request.ResumeToken.
func DecodeResumeToken(enc *Encoder, token string, sensitive bool) (*ResumableState, error) {
	rs, err := render.DecodeResumeToken(enc, token, sensitive)
	if err != nil {
		return nil, wrapEncodingError(err)
	}
	return rs, nil
}

// wrapEncodingError wraps encoding package errors with hxstream sentinel errors.
func wrapEncodingError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, encoding.ErrInvalidFormat) {
		return ErrInvalidToken
	}
	if errors.Is(err, encoding.ErrSignatureInvalid) {
		return ErrSignatureInvalid
	}
	if errors.Is(err, encoding.ErrDecryptFailed) {
		return ErrDecryptFailed
	}
	return errors.Join(ErrInvalidToken, err)
}
