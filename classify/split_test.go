package classify

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func requestStrings(reqs []Request) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = string(r.Bytes)
	}
	return out
}

func responseStrings(resps []Response) []string {
	out := make([]string, len(resps))
	for i, r := range resps {
		out[i] = string(r.Bytes)
	}
	return out
}

func TestSplitRequests(t *testing.T) {
	tests := []struct {
		name string
		data string
		want []string
	}{
		{
			name: "keep-alive with bodies",
			data: "POST /a HTTP/1.1\r\nContent-Length: 5\r\n\r\nhelloGET /b HTTP/1.1\r\nHost: x\r\n\r\n",
			want: []string{
				"POST /a HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello",
				"GET /b HTTP/1.1\r\nHost: x\r\n\r\n",
			},
		},
		{
			name: "body that looks like a request line",
			data: "POST /a HTTP/1.1\r\nContent-Length: 16\r\n\r\nGET /x HTTP/1.1\nGET /b HTTP/1.1\r\n\r\n",
			want: []string{
				"POST /a HTTP/1.1\r\nContent-Length: 16\r\n\r\nGET /x HTTP/1.1\n",
				"GET /b HTTP/1.1\r\n\r\n",
			},
		},
		{
			name: "chunked body",
			data: "POST /c HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n0\r\n\r\nGET /d HTTP/1.1\r\n\r\n",
			want: []string{
				"POST /c HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n0\r\n\r\n",
				"GET /d HTTP/1.1\r\n\r\n",
			},
		},
		{
			name: "unknown length runs to next request line",
			data: "PUT /e HTTP/1.1\r\n\r\nraw bytes\nmore\nGET /f HTTP/1.1\r\n\r\n",
			want: []string{
				"PUT /e HTTP/1.1\r\n\r\nraw bytes\nmore\n",
				"GET /f HTTP/1.1\r\n\r\n",
			},
		},
		{
			name: "truncated headers",
			data: "GET /g HTTP/1.1\r\nHost: x\r\n",
			want: []string{"GET /g HTTP/1.1\r\nHost: x\r\n"},
		},
		{
			name: "content-length past end of capture",
			data: "POST /h HTTP/1.1\r\nContent-Length: 100\r\n\r\nshort",
			want: []string{"POST /h HTTP/1.1\r\nContent-Length: 100\r\n\r\nshort"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := requestStrings(SplitRequests([]byte(tt.data)))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("SplitRequests mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSplitRequestsMethods(t *testing.T) {
	reqs := SplitRequests([]byte("GET /1 HTTP/1.1\r\n\r\nHEAD /2 HTTP/1.1\r\n\r\n"))
	if len(reqs) != 2 || reqs[0].Method != "GET" || reqs[1].Method != "HEAD" || reqs[1].Target != "/2" {
		t.Errorf("unexpected requests %+v", reqs)
	}
}

func TestSplitResponses(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		methods []string
		want    []string
	}{
		{
			name:    "content length",
			data:    "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nokHTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n",
			methods: []string{"GET", "GET"},
			want: []string{
				"HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok",
				"HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n",
			},
		},
		{
			name:    "interim response stays with final",
			data:    "HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 201 Created\r\nContent-Length: 0\r\n\r\n",
			methods: []string{"POST"},
			want:    []string{"HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 201 Created\r\nContent-Length: 0\r\n\r\n"},
		},
		{
			name:    "head and 304 carry no body",
			data:    "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nHTTP/1.1 304 Not Modified\r\n\r\n",
			methods: []string{"HEAD", "GET"},
			want: []string{
				"HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n",
				"HTTP/1.1 304 Not Modified\r\n\r\n",
			},
		},
		{
			name:    "unknown length runs to end",
			data:    "HTTP/1.0 200 OK\r\n\r\n<html>\n</html>\n",
			methods: []string{"GET"},
			want:    []string{"HTTP/1.0 200 OK\r\n\r\n<html>\n</html>\n"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := responseStrings(SplitResponses([]byte(tt.data), tt.methods))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("SplitResponses mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResponseComplete(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		method string
		want   bool
	}{
		{"empty", "", "GET", false},
		{"partial headers", "HTTP/1.1 200 OK\r\nContent-Len", "GET", false},
		{"length satisfied", "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok", "GET", true},
		{"length short", "HTTP/1.1 200 OK\r\nContent-Length: 3\r\n\r\nok", "GET", false},
		{"head", "HTTP/1.1 200 OK\r\nContent-Length: 3\r\n\r\n", "HEAD", true},
		{"204", "HTTP/1.1 204 No Content\r\n\r\n", "DELETE", true},
		{"only interim", "HTTP/1.1 100 Continue\r\n\r\n", "POST", false},
		{"interim then final", "HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n", "POST", true},
		{"chunked done", "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nok\r\n0\r\n\r\n", "GET", true},
		{"chunked open", "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nok\r\n", "GET", false},
		{"close delimited", "HTTP/1.0 200 OK\r\n\r\nbody", "GET", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResponseComplete([]byte(tt.data), tt.method); got != tt.want {
				t.Errorf("ResponseComplete = %v, want %v", got, tt.want)
			}
		})
	}
}
