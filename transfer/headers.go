package transfer

import (
	"fmt"
	"strings"
)

// parseHeaders extracts the response headers from the first size bytes of
// raw. When redirected, raw holds one header block per hop and only the
// last one is kept. Keys are lower-cased; the status line is dropped.
func parseHeaders(raw []byte, size int, redirected bool) (map[string]string, error) {
	if size < 0 || size > len(raw) {
		return nil, &InvalidStateError{
			Op:     "parsing headers",
			Reason: fmt.Sprintf("header size %d exceeds response length %d", size, len(raw)),
		}
	}

	block := strings.TrimSpace(string(raw[:size]))
	if redirected {
		if i := strings.LastIndex(block, "\r\n\r\n"); i >= 0 {
			block = block[i+4:]
		}
	}

	headers := make(map[string]string)
	var statusSeen bool
	for line := range strings.SplitSeq(block, "\r\n") {
		if line == "" {
			continue
		}
		if !statusSeen {
			statusSeen = true
			continue
		}

		name, value, _ := strings.Cut(line, ": ")
		headers[strings.ToLower(name)] = value
	}

	return headers, nil
}

// serializeHeaders renders headers as "Name: value" lines in names order.
func serializeHeaders(names []string, headers map[string]string) []string {
	if len(names) == 0 {
		return nil
	}

	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, name+": "+headers[name])
	}
	return lines
}
