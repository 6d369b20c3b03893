// Package xfer exposes transfer and multi-transfer constructors.
package xfer

import (
	"context"
	"net/url"

	"github.com/adamwoolhether/xfer/engine"
	"github.com/adamwoolhether/xfer/transfer"
)

// ————————————————————————————————————————————————————————————————————
// Type aliases – re-export user-facing types from [transfer] and [engine].
// ————————————————————————————————————————————————————————————————————

type (
	// Transfer is a single request/response exchange.
	Transfer = transfer.Transfer

	// Multi drives several transfers concurrently.
	Multi = transfer.Multi

	// Options is the typed configuration committed to an engine handle.
	Options = engine.Options

	// Info is the metadata reported for a completed transfer.
	Info = engine.Info
)

// NewTransfer instantiates a new *Transfer for target with the provided options.
// If not specified, the default HTTP engine is used.
func NewTransfer(target, method string, opts ...transfer.Option) (*Transfer, error) {
	return transfer.New(target, method, opts...)
}

// NewMulti instantiates an empty *Multi.
func NewMulti(opts ...transfer.Option) (*Multi, error) {
	return transfer.NewMulti(opts...)
}

// Get fetches target and returns its body.
func Get(ctx context.Context, target string, opts ...transfer.Option) ([]byte, error) {
	return transfer.Get(ctx, target, opts...)
}

// Post submits data form-encoded to target and returns the response body.
func Post(ctx context.Context, target string, data url.Values, opts ...transfer.Option) ([]byte, error) {
	return transfer.Post(ctx, target, data, opts...)
}
