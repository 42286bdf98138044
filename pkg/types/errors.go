package types

import "errors"

// Error kinds reported by the core. Wrap with fmt.Errorf("...: %w", Err*) to
// attach detail; CodeOf recovers the stable code from a wrapped chain.
var (
	ErrIO               = errors.New("i/o error")
	ErrCorruptLog       = errors.New("corrupt data log")
	ErrCorruptIndex     = errors.New("corrupt index")
	ErrLockBusy         = errors.New("write lock busy")
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDuplicateWarning = errors.New("near-duplicate entry")
)

// Stable integer codes for the FFI surface. Values are part of the C ABI and
// must never be renumbered.
const (
	CodeOK               = 0
	CodeIO               = 1
	CodeCorruptLog       = 2
	CodeCorruptIndex     = 3
	CodeLockBusy         = 4
	CodeNotFound         = 5
	CodeInvalidInput     = 6
	CodeDuplicateWarning = 7
	CodeInternal         = 99
)

// CodeOf maps an error chain to its stable FFI code.
func CodeOf(err error) int {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrIO):
		return CodeIO
	case errors.Is(err, ErrCorruptLog):
		return CodeCorruptLog
	case errors.Is(err, ErrCorruptIndex):
		return CodeCorruptIndex
	case errors.Is(err, ErrLockBusy):
		return CodeLockBusy
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrDuplicateWarning):
		return CodeDuplicateWarning
	default:
		return CodeInternal
	}
}

// ExitCodeOf maps an error chain to the CLI exit code contract:
// 0 success, 1 user error, 2 I/O error, 3 format/corruption.
func ExitCodeOf(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrCorruptLog), errors.Is(err, ErrCorruptIndex):
		return 3
	case errors.Is(err, ErrIO), errors.Is(err, ErrLockBusy):
		return 2
	default:
		return 1
	}
}
