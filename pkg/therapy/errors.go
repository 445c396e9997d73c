package therapy

import "errors"

// Error taxonomy for session operations. Callers classify failures with
// errors.Is and decide propagation per class:
//
//   - ErrValidation: malformed input; reported to the caller, operation
//     aborted.
//   - ErrTransient: an external dependency (key service, datastore) was
//     unavailable; retried or surfaced where no fallback exists.
//   - ErrDataIntegrity: decryption or schema failure implying possible
//     data loss; always surfaced, never silently defaulted.
//   - ErrAdvisory: summary/trend derivation failure; always degraded to a
//     safe default, never surfaced to the end user.
var (
	ErrValidation    = errors.New("therapy: validation")
	ErrTransient     = errors.New("therapy: transient external failure")
	ErrDataIntegrity = errors.New("therapy: data integrity")
	ErrAdvisory      = errors.New("therapy: advisory computation failed")
)

// UserMessage maps an internal error to a generic message safe to show an
// end user. Internal error text never crosses the relay boundary.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "invalid request, please check your input"
	case errors.Is(err, ErrDataIntegrity):
		return "your session data could not be read, please contact support"
	default:
		return "something went wrong, please try again"
	}
}
