package classify

import (
	"bytes"
	"strconv"

	"golang.org/x/net/http/httpguts"
)

// MaxLineLength bounds how far a request or status line is searched for.
const MaxLineLength = 2048

// firstLine returns the first line of data without its terminator. ok is
// false when no CRLF or LF appears within MaxLineLength bytes.
func firstLine(data []byte) (line []byte, next int, ok bool) {
	limit := len(data)
	if limit > MaxLineLength {
		limit = MaxLineLength
	}
	i := bytes.IndexByte(data[:limit], '\n')
	if i < 0 {
		return nil, 0, false
	}
	return bytes.TrimSuffix(data[:i], []byte("\r")), i + 1, true
}

func validMethod(m []byte) bool {
	if len(m) < 3 || len(m) > 8 {
		return false
	}
	for _, c := range m {
		if !httpguts.IsTokenRune(rune(c)) || (c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}

func validVersion(v []byte) bool {
	return string(v) == "HTTP/1.1" || string(v) == "HTTP/1.0"
}

// ParseRequestLine recognizes "METHOD SP target SP HTTP/1.x".
func ParseRequestLine(line []byte) (method, target string, ok bool) {
	m, rest, found := bytes.Cut(line, []byte(" "))
	if !found || !validMethod(m) {
		return "", "", false
	}
	t, v, found := bytes.Cut(rest, []byte(" "))
	if !found || len(t) == 0 || !validVersion(v) {
		return "", "", false
	}
	for _, c := range t {
		if c <= ' ' || c == 0x7f {
			return "", "", false
		}
	}
	return string(m), string(t), true
}

// ParseStatusLine recognizes "HTTP/1.x SP DDD [SP reason]".
func ParseStatusLine(line []byte) (code int, ok bool) {
	v, rest, found := bytes.Cut(line, []byte(" "))
	if !found || !validVersion(v) || len(rest) < 3 {
		return 0, false
	}
	if len(rest) > 3 && rest[3] != ' ' {
		return 0, false
	}
	for _, c := range rest[:3] {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	code, err := strconv.Atoi(string(rest[:3]))
	if err != nil || code < 100 {
		return 0, false
	}
	return code, true
}

func startsWithRequest(data []byte) (method, target string, ok bool) {
	line, _, ok := firstLine(data)
	if !ok {
		return "", "", false
	}
	return ParseRequestLine(line)
}

func startsWithStatus(data []byte) (int, bool) {
	line, _, ok := firstLine(data)
	if !ok {
		return 0, false
	}
	return ParseStatusLine(line)
}

// nextLineStart finds the first line at or after from that satisfies
// match and returns its offset, or -1.
func nextLineStart(data []byte, from int, match func([]byte) bool) int {
	pos := from
	if pos > 0 && data[pos-1] != '\n' {
		i := bytes.IndexByte(data[pos:], '\n')
		if i < 0 {
			return -1
		}
		pos += i + 1
	}
	for pos < len(data) {
		if match(data[pos:]) {
			return pos
		}
		i := bytes.IndexByte(data[pos:], '\n')
		if i < 0 {
			return -1
		}
		pos += i + 1
	}
	return -1
}

func isRequestStart(data []byte) bool {
	_, _, ok := startsWithRequest(data)
	return ok
}

func isStatusStart(data []byte) bool {
	_, ok := startsWithStatus(data)
	return ok
}
