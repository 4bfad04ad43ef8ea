package api

import (
	"io"

	"learn.throttle/types"
)

// Throttler is the interface every per-key throttle implements.
type Throttler = types.Throttler

// Throttle is a Throttler that owns background resources released by Close.
type Throttle interface {
	Throttler
	io.Closer
}
