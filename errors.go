package hxstream

import (
	"errors"

	"github.com/pthm/hxstream/lib/hydrate"
	"github.com/pthm/hxstream/lib/render"
)

// Sentinel errors for rendering, hydration and resume tokens.
var (
	ErrNotFound          = errors.New("hxstream: page not found")
	ErrShellFailed       = errors.New("hxstream: shell failed to render")
	ErrAborted           = render.ErrAborted
	ErrClosed            = render.ErrClosed
	ErrResourceLoad      = hydrate.ErrResourceLoad
	ErrHydrationMismatch = hydrate.ErrMismatch
	ErrInvalidToken      = errors.New("hxstream: invalid resume token")
	ErrSignatureInvalid  = errors.New("hxstream: signature verification failed")
	ErrDecryptFailed     = errors.New("hxstream: resume token decryption failed")
)

// IsNotFound checks if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsShellError checks if err means nothing could be streamed. The response
// is still untouched and can report the failure itself.
func IsShellError(err error) bool {
	return errors.Is(err, ErrShellFailed)
}

// IsAborted checks if err comes from an aborted render.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}

// IsHydrationMismatch checks if err reports server markup that did not
// match the client tree.
func IsHydrationMismatch(err error) bool {
	return errors.Is(err, ErrHydrationMismatch)
}

// IsResourceLoadError checks if err reports a stylesheet that failed to load.
func IsResourceLoadError(err error) bool {
	return errors.Is(err, ErrResourceLoad)
}

// IsTokenError checks if err is a malformed, forged or undecryptable resume
// token.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrInvalidToken) || IsDecryptionError(err)
}

// IsDecryptionError checks if err is a decryption or signature error.
func IsDecryptionError(err error) bool {
	return errors.Is(err, ErrDecryptFailed) || errors.Is(err, ErrSignatureInvalid)
}
