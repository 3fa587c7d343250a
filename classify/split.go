package classify

// Request is one request cut out of a client byte stream.
type Request struct {
	Method string
	Target string
	Bytes  []byte
}

// Response is one final response plus any interim responses before it.
type Response struct {
	Status int
	Bytes  []byte
}

// SplitRequests cuts a client stream at request boundaries. Leading bytes
// that do not form a request line become a request without a method.
func SplitRequests(data []byte) []Request {
	var out []Request
	pos := 0
	for pos < len(data) {
		method, target, ok := startsWithRequest(data[pos:])
		var end int
		if ok {
			end = messageEnd(data, pos, false, isRequestStart)
		} else {
			end = untilNext(data, pos, isRequestStart)
			if end == pos {
				end = len(data)
			}
		}
		out = append(out, Request{Method: method, Target: target, Bytes: data[pos:end]})
		pos = end
	}
	return out
}

// SplitResponses cuts a server stream into final responses. methods holds
// the request methods in order so responses to HEAD are not given a body.
func SplitResponses(data []byte, methods []string) []Response {
	var out []Response
	pos := 0
	for pos < len(data) {
		var method string
		if len(out) < len(methods) {
			method = methods[len(out)]
		}

		start := pos
		status := 0
		for pos < len(data) {
			code, ok := startsWithStatus(data[pos:])
			if !ok {
				end := untilNext(data, pos, isStatusStart)
				if end == pos {
					end = len(data)
				}
				pos = end
				break
			}
			status = code
			pos = messageEnd(data, pos, noResponseBody(method, code), isStatusStart)
			if code >= 200 {
				break
			}
		}
		out = append(out, Response{Status: status, Bytes: data[start:pos]})
	}
	return out
}
