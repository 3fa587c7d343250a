package capture

import (
	"errors"
	"net/netip"
	"testing"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		dst     string
		wantErr bool
	}{
		{"192.168.001.132.00080-010.000.000.001.05000", "192.168.1.132:80", "10.0.0.1:5000", false},
		{"10.0.0.1:5000-192.168.1.132:80", "10.0.0.1:5000", "192.168.1.132:80", false},
		{"[::1]:8080-[::1]:5000", "[::1]:8080", "[::1]:5000", false},
		{"192.168.1.132.80-10.0.0.1.5000", "", "", true},
		{"192.168.001.132.00080", "", "", true},
		{"report.txt", "", "", true},
		{"10.0.0.1:5000-192.168.1.132:80-x", "", "", true},
		{"999.000.000.001.00080-010.000.000.001.05000", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, dst, err := ParseName(tt.name)
			if tt.wantErr {
				if !errors.Is(err, ErrBadName) {
					t.Fatalf("expected ErrBadName, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if src != netip.MustParseAddrPort(tt.src) || dst != netip.MustParseAddrPort(tt.dst) {
				t.Errorf("got %v-%v, want %s-%s", src, dst, tt.src, tt.dst)
			}
		})
	}
}

func TestConnKeyIsDirectionIndependent(t *testing.T) {
	c := netip.MustParseAddrPort("10.0.0.1:5000")
	s := netip.MustParseAddrPort("192.168.1.132:80")

	if NewConnKey(c, s) != NewConnKey(s, c) {
		t.Fatal("both directions must map to the same key")
	}

	src1, dst1, _ := ParseName("010.000.000.001.05000-192.168.001.132.00080")
	src2, dst2, _ := ParseName("192.168.1.132:80-10.0.0.1:5000")
	if NewConnKey(src1, dst1) != NewConnKey(src2, dst2) {
		t.Error("tcpflow and host:port names should produce the same key")
	}

	k := NewConnKey(c, s)
	if !k.Has(s) || k.Peer(s) != c {
		t.Errorf("Has/Peer broken for %v", k)
	}
}

func TestTcpflowNameRoundtrip(t *testing.T) {
	src := netip.MustParseAddrPort("192.168.1.132:80")
	dst := netip.MustParseAddrPort("10.0.0.1:5000")

	name := TcpflowName(src, dst)
	if name != "192.168.001.132.00080-010.000.000.001.05000" {
		t.Fatalf("unexpected name %q", name)
	}
	gotSrc, gotDst, err := ParseName(name)
	if err != nil || gotSrc != src || gotDst != dst {
		t.Errorf("roundtrip failed: %v %v %v", gotSrc, gotDst, err)
	}
}
