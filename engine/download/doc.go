// Package download writes transfer bodies to disk with optional checksum
// validation and progress reporting.
//
// [Handle] writes the body to a temporary file alongside the destination
// path, then atomically renames it on success:
//
//	err := download.Handle(ctx, resp.Body, resp.ContentLength, destPath, logger,
//		download.WithChecksum(sha256.New(), expectedHex),
//	)
//
// The HTTP engine calls Handle when a transfer sets an output path; most
// callers configure it through transfer.WithOutputFile.
package download
