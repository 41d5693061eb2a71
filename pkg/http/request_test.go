package http

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractClientIP_DirectConnection(t *testing.T) {
	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "94.200.10.20:51234"

	ip := ExtractClientIP(r, nil)
	assert.Equal(t, "94.200.10.20", ip)
}

func TestExtractClientIP_SpoofedHeaderIgnoredFromUntrustedPeer(t *testing.T) {
	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "94.200.10.20:51234"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")

	ip := ExtractClientIP(r, &IPConfig{TrustedProxies: []string{"10.0.0.0/8"}})
	assert.Equal(t, "94.200.10.20", ip)
}

func TestExtractClientIP_ForwardedForFromTrustedProxy(t *testing.T) {
	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "10.0.0.5:443"
	r.Header.Set("X-Forwarded-For", "94.200.10.20, 10.0.0.5")

	ip := ExtractClientIP(r, &IPConfig{TrustedProxies: []string{"10.0.0.0/8"}})
	assert.Equal(t, "94.200.10.20", ip)
}

func TestExtractClientIP_RealIPFallback(t *testing.T) {
	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "10.0.0.5:443"
	r.Header.Set("X-Real-IP", "94.200.10.20")

	ip := ExtractClientIP(r, &IPConfig{TrustedProxies: []string{"10.0.0.0/8"}})
	assert.Equal(t, "94.200.10.20", ip)
}

func TestExtractClientIP_InvalidForwardedEntriesSkipped(t *testing.T) {
	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "10.0.0.5:443"
	r.Header.Set("X-Forwarded-For", "not-an-ip, 94.200.10.20")

	ip := ExtractClientIP(r, &IPConfig{TrustedProxies: []string{"10.0.0.0/8"}})
	assert.Equal(t, "94.200.10.20", ip)
}
