package session

// Error definitions
var (
	ErrCredentialMissing = NewSessionError("realtime API credential is not configured")
	ErrInvalidConfig     = NewSessionError("invalid voice session configuration")
	ErrAlreadyStarted    = NewSessionError("session was already started or stopped")
	ErrNoDialer          = NewSessionError("no realtime dialer configured")
)

// SessionError represents errors specific to the session lifecycle.
type SessionError struct {
	message string
}

func NewSessionError(message string) *SessionError {
	return &SessionError{message: message}
}

func (e *SessionError) Error() string {
	return e.message
}
