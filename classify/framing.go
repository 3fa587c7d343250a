package classify

import (
	"bytes"
	"strconv"
	"strings"
)

type bodyFraming int

const (
	framingNone bodyFraming = iota
	framingLength
	framingChunked
	framingUnknown
)

// headerEnd returns the offset just past the blank line ending the header
// block of the message at the start of data, or -1 if it is incomplete.
func headerEnd(data []byte) int {
	_, pos, ok := firstLine(data)
	if !ok {
		return -1
	}
	for pos <= len(data) {
		i := bytes.IndexByte(data[pos:], '\n')
		if i < 0 {
			return -1
		}
		line := bytes.TrimSuffix(data[pos:pos+i], []byte("\r"))
		pos += i + 1
		if len(line) == 0 {
			return pos
		}
	}
	return -1
}

// bodyFramingOf inspects the header block (first line included).
func bodyFramingOf(header []byte) (bodyFraming, int) {
	length := -1
	var conflict, chunked bool
	_, pos, _ := firstLine(header)
	for pos < len(header) {
		i := bytes.IndexByte(header[pos:], '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(header[pos:pos+i], []byte("\r"))
		pos += i + 1

		name, value, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			continue
		}
		v := strings.TrimSpace(string(value))
		switch strings.ToLower(strings.TrimSpace(string(name))) {
		case "content-length":
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 || (length >= 0 && n != length) {
				conflict = true
				continue
			}
			length = n
		case "transfer-encoding":
			if strings.Contains(strings.ToLower(v), "chunked") {
				chunked = true
			}
		}
	}
	switch {
	case chunked:
		return framingChunked, 0
	case conflict:
		return framingUnknown, 0
	case length >= 0:
		return framingLength, length
	}
	return framingUnknown, 0
}

// chunkedLength walks chunk framing without decoding it and returns the
// length of the complete chunked body including trailers.
func chunkedLength(body []byte) (int, bool) {
	pos := 0
	for {
		i := bytes.IndexByte(body[pos:], '\n')
		if i < 0 {
			return 0, false
		}
		sizeLine := bytes.TrimSuffix(body[pos:pos+i], []byte("\r"))
		pos += i + 1
		sizeField, _, _ := bytes.Cut(sizeLine, []byte(";"))
		size, err := strconv.ParseUint(strings.TrimSpace(string(sizeField)), 16, 31)
		if err != nil {
			return 0, false
		}
		if size == 0 {
			for {
				j := bytes.IndexByte(body[pos:], '\n')
				if j < 0 {
					return 0, false
				}
				trailer := bytes.TrimSuffix(body[pos:pos+j], []byte("\r"))
				pos += j + 1
				if len(trailer) == 0 {
					return pos, true
				}
			}
		}
		pos += int(size)
		if pos >= len(body) {
			return 0, false
		}
		if body[pos] == '\r' {
			pos++
		}
		if pos >= len(body) || body[pos] != '\n' {
			return 0, false
		}
		pos++
	}
}

// messageEnd finds where the message starting at start ends. Bytes that
// follow a framed message but do not begin a new one stay with it.
func messageEnd(data []byte, start int, noBody bool, isStart func([]byte) bool) int {
	h := headerEnd(data[start:])
	if h < 0 {
		return len(data)
	}
	end := start + h

	if !noBody {
		f, n := bodyFramingOf(data[start:end])
		switch f {
		case framingLength:
			end += n
		case framingChunked:
			if n, ok := chunkedLength(data[end:]); ok {
				end += n
			} else {
				end = untilNext(data, end, isStart)
			}
		case framingUnknown:
			end = untilNext(data, end, isStart)
		}
	}
	if end >= len(data) {
		return len(data)
	}
	if !isStart(data[end:]) {
		end = untilNext(data, end, isStart)
	}
	return end
}

func untilNext(data []byte, from int, isStart func([]byte) bool) int {
	if from >= len(data) {
		return len(data)
	}
	if next := nextLineStart(data, from, isStart); next >= 0 {
		return next
	}
	return len(data)
}

func noResponseBody(method string, code int) bool {
	return method == "HEAD" || (code >= 100 && code < 200) || code == 204 || code == 304
}

// ResponseComplete reports whether data holds a complete final response to
// a request with the given method, skipping interim 1xx responses. It
// returns false when completeness can only be told by connection close.
func ResponseComplete(data []byte, method string) bool {
	pos := 0
	for pos < len(data) {
		code, ok := startsWithStatus(data[pos:])
		if !ok {
			return false
		}
		h := headerEnd(data[pos:])
		if h < 0 {
			return false
		}
		if code < 200 {
			pos += h
			continue
		}
		if noResponseBody(method, code) {
			return true
		}
		body := pos + h
		switch f, n := bodyFramingOf(data[pos:body]); f {
		case framingLength:
			return len(data)-body >= n
		case framingChunked:
			_, ok := chunkedLength(data[body:])
			return ok
		default:
			return false
		}
	}
	return false
}
