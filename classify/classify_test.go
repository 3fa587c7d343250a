package classify

import (
	"net/netip"
	"testing"

	"github.com/daniellavrushin/httpcopy/capture"
	"github.com/daniellavrushin/httpcopy/filter"
	"github.com/google/go-cmp/cmp"
)

var (
	client     = netip.MustParseAddrPort("10.0.0.1:5000")
	production = netip.MustParseAddrPort("192.168.1.132:80")
)

func dir(src, dst netip.AddrPort, data string) Direction {
	return Direction{
		File: capture.CaptureFile{
			Name: capture.TcpflowName(src, dst),
			Src:  src,
			Dst:  dst,
			Key:  capture.NewConnKey(src, dst),
		},
		Data: []byte(data),
	}
}

const (
	getReq  = "GET /api/x HTTP/1.1\r\nHost: a\r\n\r\n"
	okResp  = "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"
	postReq = "POST /api/y HTTP/1.1\r\nContent-Length: 3\r\n\r\nabc"
)

func TestClassify(t *testing.T) {
	urls, err := filter.NewURLMatcher([]string{"/api/"}, []string{"/api/private"})
	if err != nil {
		t.Fatal(err)
	}
	clients, err := filter.NewClientMatcher([]string{"10.0.0.0/24"})
	if err != nil {
		t.Fatal(err)
	}
	c := &Classifier{Production: production, URLs: urls, Clients: clients}

	other := netip.MustParseAddrPort("192.168.1.133:80")
	outsider := netip.MustParseAddrPort("10.0.1.9:5000")

	tests := []struct {
		name string
		dirs []Direction
		want Classification
	}{
		{"no files", nil, Invalid},
		{"empty file", []Direction{dir(client, production, "")}, Invalid},
		{"both empty", []Direction{dir(client, production, ""), dir(production, client, "")}, Invalid},
		{"garbage", []Direction{dir(client, production, "\x16\x03\x01\x02\x00"), dir(production, client, okResp)}, Invalid},
		{"partial request line", []Direction{dir(client, production, "GET /api/x HTT"), dir(production, client, okResp)}, Invalid},
		{"requests both ways", []Direction{dir(client, production, getReq), dir(production, client, getReq)}, Invalid},
		{"garbage one way", []Direction{dir(client, production, "hello\n")}, Invalid},
		{"request only", []Direction{dir(client, production, getReq)}, InvalidOneway},
		{"request with empty response file", []Direction{dir(client, production, getReq), dir(production, client, "")}, InvalidOneway},
		{"response only", []Direction{dir(production, client, okResp)}, InvalidOneway},
		{"other server", []Direction{dir(client, other, getReq), dir(other, client, okResp)}, InvalidServer},
		{"client outside allow-list", []Direction{dir(outsider, production, getReq), dir(production, outsider, okResp)}, InvalidServer},
		{"url not allowed", []Direction{dir(client, production, "GET /static/a HTTP/1.1\r\n\r\n"), dir(production, client, okResp)}, InvalidURL},
		{"url denied", []Direction{dir(client, production, "GET /api/private HTTP/1.1\r\n\r\n"), dir(production, client, okResp)}, InvalidURL},
		{"forward", []Direction{dir(client, production, getReq), dir(production, client, okResp)}, Forward},
		{"forward, reversed order", []Direction{dir(production, client, okResp), dir(client, production, getReq)}, Forward},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(tt.dirs)
			if res.Class != tt.want {
				t.Errorf("class = %s (%s), want %s", res.Class, res.Detail, tt.want)
			}
			if res.Class.Forwardable() != (len(res.Units) > 0) {
				t.Errorf("units should be present exactly for forwardable captures, got %d", len(res.Units))
			}
		})
	}
}

func TestClassifyUnits(t *testing.T) {
	c := &Classifier{Production: production}

	reqStream := getReq + postReq + "GET /api/z HTTP/1.1\r\n\r\n"
	respStream := okResp + "HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 201 Created\r\nContent-Length: 0\r\n\r\n"

	res := c.Classify([]Direction{dir(client, production, reqStream), dir(production, client, respStream)})
	if res.Class != Forward {
		t.Fatalf("class = %s (%s)", res.Class, res.Detail)
	}
	if res.Client != client || res.Server != production {
		t.Errorf("endpoints %v -> %v", res.Client, res.Server)
	}

	type unit struct {
		Seq     int
		Method  string
		Target  string
		Request string
		Prod    string
	}
	var got []unit
	for _, u := range res.Units {
		got = append(got, unit{u.Seq, u.Method, u.Target, string(u.RequestBytes), string(u.ProductionResponseBytes)})
	}
	want := []unit{
		{1, "GET", "/api/x", getReq, okResp},
		{2, "POST", "/api/y", postReq, "HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 201 Created\r\nContent-Length: 0\r\n\r\n"},
		{3, "GET", "/api/z", "GET /api/z HTTP/1.1\r\n\r\n", ""},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("units mismatch (-want +got):\n%s", diff)
	}
}

func TestPairSurplusResponses(t *testing.T) {
	reqs := SplitRequests([]byte(getReq))
	units := Pair(reqs, []byte(okResp+okResp))
	if len(units) != 1 || string(units[0].ProductionResponseBytes) != okResp+okResp {
		t.Errorf("surplus response should be appended to the last unit, got %q", units[0].ProductionResponseBytes)
	}
}

func TestClassifyUnspecifiedProduction(t *testing.T) {
	c := &Classifier{Production: netip.MustParseAddrPort("0.0.0.0:80")}
	res := c.Classify([]Direction{dir(client, production, getReq), dir(production, client, okResp)})
	if res.Class != Forward {
		t.Errorf("wildcard production address should match any IP on port 80, got %s", res.Class)
	}
	alt := netip.MustParseAddrPort("192.168.1.132:8080")
	res = c.Classify([]Direction{dir(client, alt, getReq), dir(alt, client, okResp)})
	if res.Class != InvalidServer {
		t.Errorf("wrong port should be invalid_server, got %s", res.Class)
	}
}
