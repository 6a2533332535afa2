package interfaces

import "errors"

// ErrStoreClosed is returned by stores used after Close.
var ErrStoreClosed = errors.New("store is closed")
