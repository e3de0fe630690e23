package protocol

import "fmt"

var (
	ErrConnectionClosed = errorString("connection closed")
	ErrTruncatedFrame   = errorString("truncated frame")
	ErrFrameTooLarge    = errorString("frame too large")
	ErrMalformedFrame   = errorString("malformed frame")
	ErrInvalidEnvelope  = errorString("invalid envelope")
)

type errorString string

func (e errorString) Error() string { return string(e) }

// FramingError is returned by Receive when no complete, well-formed envelope
// could be read. It is fatal for the connection.
type FramingError struct {
	Err   error // one of the sentinel errors above
	Cause error // underlying I/O or decoding error, may be nil
}

func (e *FramingError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("framing: %v", e.Err)
	}
	return fmt.Sprintf("framing: %v: %v", e.Err, e.Cause)
}

func (e *FramingError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// TransportError is returned by Send when the frame could not be written.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %v", e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }
