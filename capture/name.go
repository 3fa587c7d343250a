package capture

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

var ErrBadName = errors.New("not a capture file name")

// ConnKey identifies a TCP connection independent of direction: both
// "A-B" and "B-A" capture files map to the same key.
type ConnKey struct {
	A netip.AddrPort
	B netip.AddrPort
}

// NewConnKey orders the endpoints so the key is direction independent.
func NewConnKey(x, y netip.AddrPort) ConnKey {
	if compareAddrPort(x, y) > 0 {
		x, y = y, x
	}
	return ConnKey{A: x, B: y}
}

func (k ConnKey) String() string {
	return k.A.String() + "-" + k.B.String()
}

// Has reports whether ep is one side of the connection.
func (k ConnKey) Has(ep netip.AddrPort) bool {
	return k.A == ep || k.B == ep
}

// Peer returns the other side of the connection.
func (k ConnKey) Peer(ep netip.AddrPort) netip.AddrPort {
	if k.A == ep {
		return k.B
	}
	return k.A
}

func compareAddrPort(x, y netip.AddrPort) int {
	if c := x.Addr().Compare(y.Addr()); c != 0 {
		return c
	}
	switch {
	case x.Port() < y.Port():
		return -1
	case x.Port() > y.Port():
		return 1
	}
	return 0
}

// ParseName parses a capture file name "SRC-DST". Each side is either the
// tcpflow form "AAA.BBB.CCC.DDD.PPPPP" or "host:port" ("[v6]:port").
func ParseName(name string) (src, dst netip.AddrPort, err error) {
	left, right, ok := strings.Cut(name, "-")
	if !ok || strings.Contains(right, "-") {
		return src, dst, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	if src, err = parseSide(left); err != nil {
		return src, dst, fmt.Errorf("%w: %q: %v", ErrBadName, name, err)
	}
	if dst, err = parseSide(right); err != nil {
		return src, dst, fmt.Errorf("%w: %q: %v", ErrBadName, name, err)
	}
	return src, dst, nil
}

func parseSide(s string) (netip.AddrPort, error) {
	if strings.Contains(s, ":") {
		ap, err := netip.ParseAddrPort(s)
		if err != nil {
			return netip.AddrPort{}, err
		}
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
	}
	return parseTcpflowSide(s)
}

// parseTcpflowSide parses "192.168.001.132.00080".
func parseTcpflowSide(s string) (netip.AddrPort, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 5 {
		return netip.AddrPort{}, fmt.Errorf("expected 5 dotted fields in %q", s)
	}
	var octets [4]byte
	for i := 0; i < 4; i++ {
		if len(parts[i]) != 3 {
			return netip.AddrPort{}, fmt.Errorf("octet %q is not zero padded", parts[i])
		}
		v, err := strconv.ParseUint(parts[i], 10, 8)
		if err != nil {
			return netip.AddrPort{}, fmt.Errorf("bad octet %q", parts[i])
		}
		octets[i] = byte(v)
	}
	if len(parts[4]) != 5 {
		return netip.AddrPort{}, fmt.Errorf("port %q is not zero padded", parts[4])
	}
	port, err := strconv.ParseUint(parts[4], 10, 16)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("bad port %q", parts[4])
	}
	return netip.AddrPortFrom(netip.AddrFrom4(octets), uint16(port)), nil
}

// TcpflowName formats a direction the way tcpflow names its files.
// IPv6 endpoints fall back to the host:port form.
func TcpflowName(src, dst netip.AddrPort) string {
	return formatSide(src) + "-" + formatSide(dst)
}

func formatSide(ep netip.AddrPort) string {
	if !ep.Addr().Is4() {
		return ep.String()
	}
	b := ep.Addr().As4()
	return fmt.Sprintf("%03d.%03d.%03d.%03d.%05d", b[0], b[1], b[2], b[3], ep.Port())
}
