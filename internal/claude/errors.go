package claude

import "fmt"

// Kind classifies completion failures.
type Kind int

const (
	// KindUnavailable covers transport failures, timeouts and 5xx responses.
	KindUnavailable Kind = iota + 1
	// KindRateLimited is a 429 from the API.
	KindRateLimited
	// KindOther is anything else, including empty replies.
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindRateLimited:
		return "rate_limited"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

// CompletionError is returned by Client.Complete.
type CompletionError struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *CompletionError) Error() string {
	msg := "completion " + e.Kind.String()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// KindName returns the failure kind as a log label.
func (e *CompletionError) KindName() string {
	return e.Kind.String()
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}
