package filter

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/yl2chen/cidranger"
)

// ClientMatcher is an allow-list of client networks. An empty list allows
// every client.
type ClientMatcher struct {
	ranger cidranger.Ranger
	count  int
}

func NewClientMatcher(cidrs []string) (*ClientMatcher, error) {
	m := &ClientMatcher{ranger: cidranger.NewPCTrieRanger()}
	for _, s := range cidrs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		prefix, err := parsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("bad client network %q: %w", s, err)
		}
		_, ipNet, err := net.ParseCIDR(prefix.Masked().String())
		if err != nil {
			return nil, fmt.Errorf("bad client network %q: %w", s, err)
		}
		if err := m.ranger.Insert(cidranger.NewBasicRangerEntry(*ipNet)); err != nil {
			return nil, err
		}
		m.count++
	}
	return m, nil
}

func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	ip = ip.Unmap()
	return netip.PrefixFrom(ip, ip.BitLen()), nil
}

func (m *ClientMatcher) Enabled() bool { return m != nil && m.count > 0 }

func (m *ClientMatcher) Allowed(ip netip.Addr) bool {
	if !m.Enabled() {
		return true
	}
	ok, err := m.ranger.Contains(net.IP(ip.Unmap().AsSlice()))
	return err == nil && ok
}
