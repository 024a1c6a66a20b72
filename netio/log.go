package netio

import (
	"context"

	"github.com/btcsuite/btclog/v2"
)

// Subsystem is the logging prefix used by this package.
const Subsystem = "NTIO"

// log is a logger that is initialized with no output filters. This means the
// package will not perform any logging by default until the caller requests
// it.
var log = btclog.Disabled

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// ctxb is the background context threaded into structured log calls.
var ctxb = context.Background()
