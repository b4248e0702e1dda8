package relay

import "errors"

var (
	ErrBrokerClosed = errors.New("broker is closed")
)
