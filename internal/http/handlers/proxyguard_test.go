package handlers

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.1.10", true},
		{"169.254.169.254", true},
		{"100.64.0.1", true},
		{"0.0.0.0", true},
		{"fd00::1", true},
		{"fe80::1", true},
		{"224.0.0.1", true},
		{"8.8.8.8", false},
		{"151.101.1.69", false},
		{"2606:4700::1111", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := isPrivateIP(net.ParseIP(tt.ip)); got != tt.private {
				t.Fatalf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.private)
			}
		})
	}
}

func TestPublicOnlyControl(t *testing.T) {
	if err := publicOnlyControl("tcp4", "127.0.0.1:80", nil); !errors.Is(err, errPrivateAddress) {
		t.Fatalf("loopback: got %v", err)
	}
	if err := publicOnlyControl("tcp4", "8.8.8.8:443", nil); err != nil {
		t.Fatalf("public: got %v", err)
	}
}

// The dial guard holds even when the pre-flight host check is bypassed.
func TestProxyClientRefusesPrivateDial(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("internal-secret"))
	}))
	defer upstream.Close()

	resp, err := newProxyClient(false).Get(upstream.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected dial to be refused")
	}
	if !errors.Is(err, errPrivateAddress) {
		t.Fatalf("got %v, want errPrivateAddress", err)
	}

	resp, err = newProxyClient(true).Get(upstream.URL)
	if err != nil {
		t.Fatalf("allow-private client: %v", err)
	}
	resp.Body.Close()
}
