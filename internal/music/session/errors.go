package session

import "errors"

var (
	ErrNotInVoiceChannel      = errors.New("not in a voice channel")
	ErrNoActiveSession        = errors.New("no active session")
	ErrEmptyQueue             = errors.New("no audio queued")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrOutOfRange             = errors.New("volume out of range")
	ErrCatalogEmpty           = errors.New("catalog is empty")
	ErrResolutionFailure      = errors.New("resolution failed")
	ErrPersistenceFailure     = errors.New("persistence failed")
	ErrEngineFailure          = errors.New("engine failure")
	ErrNotImplemented         = errors.New("not implemented")
)

const genericFailure = "Something went wrong, try again"

// UserMessage maps an error to the short text shown to the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotInVoiceChannel):
		return "Not in a voice channel"
	case errors.Is(err, ErrNoActiveSession):
		return "bot is not present in a voice channel"
	case errors.Is(err, ErrEmptyQueue):
		return "No audio queued"
	case errors.Is(err, ErrInvalidStateTransition):
		return "Already in that state"
	case errors.Is(err, ErrOutOfRange):
		return "vol must be >= 0 and <= 200"
	case errors.Is(err, ErrCatalogEmpty):
		return "No tracks present to jam"
	case errors.Is(err, ErrNotImplemented):
		return "Not working yet"
	default:
		return genericFailure
	}
}

// IsUserError reports whether err is an expected condition that is answered
// with a specific message and never logged as a failure.
func IsUserError(err error) bool {
	for _, target := range []error{
		ErrNotInVoiceChannel,
		ErrNoActiveSession,
		ErrEmptyQueue,
		ErrInvalidStateTransition,
		ErrOutOfRange,
		ErrCatalogEmpty,
		ErrNotImplemented,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
