package audio

import "errors"

// Error kinds surfaced by the capture pipeline. Callers match them with
// errors.Is; the concrete cause is wrapped alongside.
var (
	// ErrDevice covers buffer negotiation, device initialization and read failures.
	ErrDevice = errors.New("device error")

	// ErrIO covers the destination store: open, write, flush, seek and rewrite.
	ErrIO = errors.New("io error")

	// ErrState is a contract violation such as writing after seal,
	// finalizing an unsealed store or releasing a device twice.
	ErrState = errors.New("state error")
)

// errorKind names the sentinel wrapped by err, for logs and metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrDevice):
		return "device"
	case errors.Is(err, ErrIO):
		return "io"
	case errors.Is(err, ErrState):
		return "state"
	default:
		return "observer"
	}
}
