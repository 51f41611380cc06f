package engine

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/wippyai/ndr-runtime/errors"
)

// Status is an engine status code. Values follow the Win32 RPC codes so
// they can be compared with peers that report the same numbers.
type Status = uint32

const (
	StatusOK                   Status = 0
	StatusOutOfMemory          Status = 14
	StatusInvalidStringBinding Status = 1700
	StatusProtseqNotSupported  Status = 1703
	StatusAlreadyRegistered    Status = 1711
	StatusAlreadyListening     Status = 1713
	StatusNotListening         Status = 1715
	StatusUnknownInterface     Status = 1717
	StatusServerUnavailable    Status = 1722
	StatusCallFailed           Status = 1726
	StatusProtocolError        Status = 1728
	StatusUnsupportedSyntax    Status = 1730
	StatusDuplicateEndpoint    Status = 1740
	StatusProcnumOutOfRange    Status = 1745
	StatusBadStubData          Status = 1783
	StatusCallCancelled        Status = 1818
)

var statusText = map[Status]string{
	StatusOK:                   "success",
	StatusOutOfMemory:          "out of memory",
	StatusInvalidStringBinding: "invalid string binding",
	StatusProtseqNotSupported:  "protocol sequence not supported",
	StatusAlreadyRegistered:    "interface already registered",
	StatusAlreadyListening:     "server already listening",
	StatusNotListening:         "server not listening",
	StatusUnknownInterface:     "unknown interface",
	StatusServerUnavailable:    "server unavailable",
	StatusCallFailed:           "call failed",
	StatusProtocolError:        "protocol error",
	StatusUnsupportedSyntax:    "unsupported transfer syntax",
	StatusDuplicateEndpoint:    "endpoint already in use",
	StatusProcnumOutOfRange:    "procedure number out of range",
	StatusBadStubData:          "bad stub data",
	StatusCallCancelled:        "call cancelled",
}

// StatusText returns a short description of code.
func StatusText(code Status) string {
	if s, ok := statusText[code]; ok {
		return s
	}
	return fmt.Sprintf("status %d", code)
}

// statusFor picks the status reported for a local failure.
func statusFor(err error) Status {
	if code := errors.StatusOf(err); code != 0 {
		return code
	}
	switch {
	case stderrors.Is(err, errors.ErrAllocation):
		return StatusOutOfMemory
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return StatusCallCancelled
	}
	var e *errors.Error
	if stderrors.As(err, &e) && (e.Phase == errors.PhaseUnmarshal || e.Kind == errors.KindInvalidData) {
		return StatusBadStubData
	}
	return StatusCallFailed
}

func bindError(code Status, detail string, cause error) error {
	return errors.Binding(code, detail+": "+StatusText(code), cause)
}
