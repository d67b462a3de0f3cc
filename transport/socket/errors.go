package socket

import "errors"

var (
	// ErrConnectionClosed is returned when sending to a closing connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrUnknownSession is returned by Deliver for a session id with no
	// open connection.
	ErrUnknownSession = errors.New("unknown session")
	// ErrUnknownFrame is reported to clients sending an unsupported frame.
	ErrUnknownFrame = errors.New("unknown frame type")
)
