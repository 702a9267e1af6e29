package stun

// STUNError STUN 错误
type STUNError struct {
	Message string
	Cause   error
}

func (e *STUNError) Error() string {
	if e.Cause != nil {
		return "stun: " + e.Message + ": " + e.Cause.Error()
	}
	return "stun: " + e.Message
}

// Unwrap 解包错误
func (e *STUNError) Unwrap() error {
	return e.Cause
}

// Errors
var (
	ErrNoServer = &STUNError{Message: "no STUN server"}
	ErrTimeout  = &STUNError{Message: "STUN request timeout"}
)
