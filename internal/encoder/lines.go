package encoder

import "bytes"

// scanLines is a bufio.SplitFunc that ends a line at '\n' or '\r'. ffmpeg
// rewrites its progress line in place with '\r', and each rewrite counts as a line.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
