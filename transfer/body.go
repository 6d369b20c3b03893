package transfer

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// decodeBody reverses the content coding named by encoding. It reports
// false when the coding is not one it understands, leaving body untouched.
func decodeBody(encoding string, body []byte) ([]byte, bool, error) {
	var r io.Reader
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, false, fmt.Errorf("opening gzip body: %w", err)
		}
		defer zr.Close()
		r = zr
	case "deflate":
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, false, fmt.Errorf("opening deflate body: %w", err)
		}
		defer zr.Close()
		r = zr
	case "br":
		r = brotli.NewReader(bytes.NewReader(body))
	default:
		return body, false, nil
	}

	decoded, err := io.ReadAll(r)
	if err != nil {
		return nil, false, fmt.Errorf("decoding %s body: %w", encoding, err)
	}

	return decoded, true, nil
}
