package transport

import (
	"fmt"

	"github.com/rezonia/cpe-emitter/internal/model"
)

// Fault codes raised by the client itself. Authority faults keep their own code.
const (
	FaultCodeNetwork   = "NETWORK"
	FaultCodeHTTP      = "HTTP"
	FaultCodeMalformed = "MALFORMED_RESPONSE"
	FaultCodeArchive   = "ARCHIVE"
)

// TransportFault is a protocol-level rejection or a network failure
type TransportFault struct {
	Operation string
	Code      string
	Message   string
	Cause     error
}

func (f *TransportFault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", f.Code, f.Operation, f.Message, f.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", f.Code, f.Operation, f.Message)
}

func (f *TransportFault) Unwrap() error {
	return f.Cause
}

func (f *TransportFault) Kind() model.ErrorKind {
	return model.KindTransport
}

// Network reports whether the request never got an authority answer
func (f *TransportFault) Network() bool {
	return f.Code == FaultCodeNetwork
}

// NewTransportFault creates a new transport fault
func NewTransportFault(op, code, message string, cause error) *TransportFault {
	return &TransportFault{
		Operation: op,
		Code:      code,
		Message:   message,
		Cause:     cause,
	}
}

// ErrNetwork wraps a failed round trip
func ErrNetwork(op string, cause error) *TransportFault {
	return NewTransportFault(op, FaultCodeNetwork, "request to the authority failed", cause)
}

// ErrMalformed reports a response body that is not the expected envelope
func ErrMalformed(op, message string, cause error) *TransportFault {
	return NewTransportFault(op, FaultCodeMalformed, message, cause)
}
