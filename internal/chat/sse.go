// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// errEventTooLarge is returned when a single SSE event exceeds
// maxEventSize.
var errEventTooLarge = errors.New("sse event too large")

// =============================================================================
// SSE READER
// =============================================================================

// maxEventSize is the maximum allowed size for a single SSE event (64KB).
const maxEventSize = 64 * 1024

// sseReader parses Server-Sent Events from a stream.
type sseReader struct {
	reader *bufio.Reader
	size   int
}

// newSSEReader creates a new SSE reader from an io.Reader.
func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{
		reader: bufio.NewReader(r),
	}
}

// readEvent reads the next SSE event from the stream and returns its
// data payload. Returns io.EOF when the stream ends.
func (s *sseReader) readEvent() ([]byte, error) {
	var dataLines [][]byte
	s.size = 0

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				// If we have data, return it before EOF
				if len(dataLines) > 0 {
					return bytes.Join(dataLines, []byte("\n")), nil
				}
				return nil, io.EOF
			}
			return nil, err
		}

		s.size += len(line)
		if s.size > maxEventSize {
			return nil, errEventTooLarge
		}

		// Trim trailing newline and carriage return
		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		if bytes.HasPrefix(line, []byte("data:")) {
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
		}
		// Ignore other fields (event:, id:, retry:, comments)
	}
}
