// internal/scaninfo/scaninfo_test.go
package scaninfo

import (
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

const (
	uaIPhone    = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1"
	uaChrome    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaGooglebot = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

func TestParseUA(t *testing.T) {
	tests := []struct {
		name    string
		ua      string
		device  string
		browser string
		os      string
		bot     bool
	}{
		{"iphone", uaIPhone, "Mobile", "Safari", "iOS", false},
		{"chrome desktop", uaChrome, "Desktop", "Chrome", "Windows", false},
		{"empty", "", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseUA(tt.ua)
			if got.Device != tt.device || got.Browser != tt.browser || got.OS != tt.os || got.Bot != tt.bot {
				t.Fatalf("parseUA = %+v, want {Device:%s Browser:%s OS:%s Bot:%v}",
					got, tt.device, tt.browser, tt.os, tt.bot)
			}
		})
	}
}

func TestParseUABot(t *testing.T) {
	if got := parseUA(uaGooglebot); !got.Bot {
		t.Fatalf("parseUA(googlebot) = %+v, want Bot", got)
	}
}

func TestFromRequestWithoutGeoIP(t *testing.T) {
	p := NewParser("", zap.NewNop().Sugar())

	r := httptest.NewRequest("GET", "/code/x", nil)
	r.Header.Set("User-Agent", uaIPhone)

	info := p.FromRequest(r)
	if info.Device != "Mobile" {
		t.Fatalf("Device = %q", info.Device)
	}
	if info.Country != "" {
		t.Fatalf("Country = %q without a GeoIP database", info.Country)
	}
}

func TestNewParserMissingDatabaseDegrades(t *testing.T) {
	p := NewParser("/nonexistent/GeoLite2-Country.mmdb", zap.NewNop().Sugar())
	defer p.Close()

	r := httptest.NewRequest("GET", "/code/x", nil)
	r.Header.Set("User-Agent", uaChrome)
	if info := p.FromRequest(r); info.Browser != "Chrome" {
		t.Fatalf("Browser = %q", info.Browser)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.7:1234"
	if got := clientIP(r); got.String() != "192.0.2.7" {
		t.Fatalf("clientIP = %v", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientIP(r); got.String() != "203.0.113.9" {
		t.Fatalf("clientIP with XFF = %v", got)
	}
}
