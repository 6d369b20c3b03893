package download

import (
	"errors"
	"hash"
	"strings"
)

// Option defines optional settings for writing a body to disk.
type Option func(*options) error

type options struct {
	checksum     *checksumVerifier
	progress     bool
	skipExisting bool
}

// WithChecksum validates the written file. h is a [hash.Hash] instance
// (e.g. sha256.New()) and expected the hex-encoded digest.
func WithChecksum(h hash.Hash, expected string) Option {
	return func(opts *options) error {
		if h == nil {
			return errors.New("hash must not be nil")
		}
		if expected == "" {
			return errors.New("expected checksum must not be empty")
		}

		opts.checksum = &checksumVerifier{hash: h, expected: strings.ToLower(expected)}
		return nil
	}
}

// WithProgress logs transfer progress at most once per second.
func WithProgress() Option {
	return func(opts *options) error {
		opts.progress = true
		return nil
	}
}

// WithSkipExisting makes Handle return nil without reading the body when
// the destination already exists.
func WithSkipExisting() Option {
	return func(opts *options) error {
		opts.skipExisting = true
		return nil
	}
}
