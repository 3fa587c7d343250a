package classify

import (
	"fmt"
	"net/netip"

	"github.com/daniellavrushin/httpcopy/capture"
	"github.com/daniellavrushin/httpcopy/filter"
)

type Classification string

const (
	Forward       Classification = "forward"
	Invalid       Classification = "invalid"
	InvalidOneway Classification = "invalid_oneway"
	InvalidServer Classification = "invalid_server"
	InvalidURL    Classification = "invalid_url"
)

// Forwardable reports whether captures of this class are replayed.
func (c Classification) Forwardable() bool { return c == Forward }

// Direction is the content of one capture file.
type Direction struct {
	File capture.CaptureFile
	Data []byte
}

// RequestUnit is one inferred request with the production response that
// answered it, if any.
type RequestUnit struct {
	Seq                     int
	Method                  string
	Target                  string
	RequestBytes            []byte
	ProductionResponseBytes []byte
	Classification          Classification
}

type Result struct {
	Class  Classification
	Detail string
	Client netip.AddrPort
	Server netip.AddrPort
	Units  []RequestUnit
}

type Classifier struct {
	// Production is the server address tcpflow listens to. An unspecified
	// IP matches any address on the same port; the zero value disables
	// the check.
	Production netip.AddrPort
	URLs       *filter.URLMatcher
	Clients    *filter.ClientMatcher
}

func (c *Classifier) serverMatches(ep netip.AddrPort) bool {
	if !c.Production.IsValid() {
		return true
	}
	if c.Production.Addr().IsUnspecified() {
		return ep.Port() == c.Production.Port()
	}
	return ep.Addr().Unmap() == c.Production.Addr().Unmap() && ep.Port() == c.Production.Port()
}

// Classify decides what to do with a finished capture. It never fails:
// input it cannot make sense of is Invalid.
func (c *Classifier) Classify(dirs []Direction) Result {
	var (
		nonEmpty []Direction
		req      *Direction
		resp     *Direction
	)
	for _, d := range dirs {
		if len(d.Data) > 0 {
			nonEmpty = append(nonEmpty, d)
		}
	}
	if len(nonEmpty) == 0 {
		return Result{Class: Invalid, Detail: "capture is empty"}
	}

	for i := range nonEmpty {
		d := &nonEmpty[i]
		if _, _, ok := startsWithRequest(d.Data); ok {
			if req != nil {
				return Result{Class: Invalid, Detail: "both directions start with a request"}
			}
			req = d
			continue
		}
		if _, ok := startsWithStatus(d.Data); ok {
			if resp != nil {
				return Result{Class: Invalid, Detail: "both directions start with a response"}
			}
			resp = d
			continue
		}
		return Result{Class: Invalid, Detail: fmt.Sprintf("%s does not start with a request or status line", d.File.Name)}
	}

	if req == nil || resp == nil {
		return Result{Class: InvalidOneway, Detail: "only one direction carries data"}
	}
	if req.File.Src != resp.File.Dst || req.File.Dst != resp.File.Src {
		return Result{Class: Invalid, Detail: "directions belong to different connections"}
	}

	res := Result{Client: req.File.Src, Server: req.File.Dst}
	if !c.serverMatches(res.Server) {
		res.Class = InvalidServer
		res.Detail = fmt.Sprintf("server %s is not the production server %s", res.Server, c.Production)
		return res
	}
	if !c.Clients.Allowed(res.Client.Addr()) {
		res.Class = InvalidServer
		res.Detail = fmt.Sprintf("client %s is not in the client allow-list", res.Client.Addr())
		return res
	}

	requests := SplitRequests(req.Data)
	if !c.URLs.Allowed(requests[0].Target) {
		res.Class = InvalidURL
		res.Detail = fmt.Sprintf("target %q rejected by url filter", requests[0].Target)
		return res
	}

	res.Class = Forward
	res.Units = Pair(requests, resp.Data)
	return res
}

// Pair matches responses to requests in order. Requests without a response
// keep an empty production response; surplus responses are appended to the
// last unit.
func Pair(requests []Request, responseData []byte) []RequestUnit {
	methods := make([]string, len(requests))
	for i, r := range requests {
		methods[i] = r.Method
	}
	responses := SplitResponses(responseData, methods)

	units := make([]RequestUnit, len(requests))
	for i, r := range requests {
		units[i] = RequestUnit{
			Seq:            i + 1,
			Method:         r.Method,
			Target:         r.Target,
			RequestBytes:   r.Bytes,
			Classification: Forward,
		}
		if i < len(responses) {
			units[i].ProductionResponseBytes = responses[i].Bytes
		}
	}
	if extra := responses[min(len(responses), len(requests)):]; len(extra) > 0 && len(units) > 0 {
		last := &units[len(units)-1]
		buf := append([]byte(nil), last.ProductionResponseBytes...)
		for _, r := range extra {
			buf = append(buf, r.Bytes...)
		}
		last.ProductionResponseBytes = buf
	}
	return units
}
