package processor

import (
	"errors"
	"fmt"
)

// ErrChainTooLong is returned when an event's follow-up chain exceeds
// Config.MaxChainLength. Updates delivered before the limit stay valid.
var ErrChainTooLong = errors.New("event chain too long")

// ErrNoConnection is returned for an upload whose session has no open
// connection to deliver its updates to.
var ErrNoConnection = errors.New("session has no open connection")

// MissingUploadParameterError reports an upload handler that declares no
// parameter accepting uploaded files.
type MissingUploadParameterError struct {
	Handler string
}

func (e *MissingUploadParameterError) Error() string {
	return fmt.Sprintf("handler %s has no parameter accepting uploaded files", e.Handler)
}
