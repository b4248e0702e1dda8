package transport

import "errors"

var (
	ErrNotOpen        = errors.New("socket is not open")
	ErrSendQueueFull  = errors.New("socket send queue is full")
	ErrUnsupportedURL = errors.New("unsupported url scheme, expected http or https")
)
