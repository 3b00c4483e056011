package relay

import "errors"

// ErrClosed is returned by a relay after Close.
var ErrClosed = errors.New("relay closed")
