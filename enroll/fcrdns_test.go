package enroll

import (
	"context"
	"net"
	"testing"
)

func TestFcrdnsWithNoServersReturnsEmpty(t *testing.T) {
	r := newResolver(nil, 0)
	if got := r.fcrdns(context.Background(), net.ParseIP("192.0.2.1")); got != "" {
		t.Errorf("fcrdns with no servers = %q, want empty", got)
	}
}

func TestFcrdnsWithNilIPReturnsEmpty(t *testing.T) {
	r := newResolver([]string{"10.0.0.1:53"}, 0)
	if got := r.fcrdns(context.Background(), nil); got != "" {
		t.Errorf("fcrdns with nil ip = %q, want empty", got)
	}
}

func TestContainsIP(t *testing.T) {
	addrs := []net.IP{net.ParseIP("192.0.2.1"), net.ParseIP("192.0.2.2")}
	if !containsIP(addrs, net.ParseIP("192.0.2.2")) {
		t.Error("expected containsIP to find 192.0.2.2")
	}
	if containsIP(addrs, net.ParseIP("192.0.2.3")) {
		t.Error("expected containsIP to not find 192.0.2.3")
	}
}

func TestNewResolverDefaultsTimeout(t *testing.T) {
	r := newResolver([]string{"10.0.0.1:53"}, 0)
	if r.timeout <= 0 {
		t.Error("expected newResolver to default to a positive timeout")
	}
}
