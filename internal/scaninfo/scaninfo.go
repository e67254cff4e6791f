// internal/scaninfo/scaninfo.go
//
// Coarse client metadata for the scan log.
//
// Context
// -------
// Each resolved scan may carry a hint of who scanned: device class, browser,
// and OS from the User-Agent header (uasurfer), plus a country code when a
// MaxMind GeoLite2 database is configured.  Everything here is best-effort
// and inert — plain strings safe to log or JSON-encode, never a reason to
// fail a resolution.
package scaninfo

import (
	"net"
	"net/http"
	"strings"

	surfer "github.com/avct/uasurfer"
	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"
)

// Info is the coarse metadata attached to one scan-log record.
type Info struct {
	Device  string
	Browser string
	OS      string
	Country string
	Bot     bool
}

// Parser turns an inbound request into an Info.  Safe for concurrent use;
// the GeoIP reader is read-only.
type Parser struct {
	geo *geoip2.Reader
}

// NewParser opens the GeoLite2 database at mmdbPath when non-empty.  An
// unopenable database degrades to UA-only metadata with a warning; geography
// is a nicety, not a dependency.
func NewParser(mmdbPath string, log *zap.SugaredLogger) *Parser {
	p := &Parser{}
	if mmdbPath == "" {
		return p
	}
	rd, err := geoip2.Open(mmdbPath)
	if err != nil {
		log.Warnw("geoip database unavailable, scans log without country", "path", mmdbPath, "err", err)
		return p
	}
	p.geo = rd
	return p
}

// Close releases the GeoIP reader, if any.
func (p *Parser) Close() {
	if p.geo != nil {
		_ = p.geo.Close()
	}
}

// FromRequest extracts metadata from the request headers and peer address.
func (p *Parser) FromRequest(r *http.Request) Info {
	info := parseUA(r.Header.Get("User-Agent"))

	if p.geo != nil {
		if ip := clientIP(r); ip != nil {
			if rec, err := p.geo.Country(ip); err == nil {
				info.Country = rec.Country.IsoCode
			}
		}
	}
	return info
}

// parseUA maps uasurfer's enums onto coarse display strings.
func parseUA(raw string) Info {
	if raw == "" {
		return Info{}
	}
	ua := surfer.Parse(raw)

	info := Info{
		Browser: strings.TrimPrefix(ua.Browser.Name.String(), "Browser"),
		OS:      strings.TrimPrefix(ua.OS.Name.String(), "OS"),
		Bot:     ua.IsBot(),
	}

	switch ua.DeviceType {
	case surfer.DeviceComputer:
		info.Device = "Desktop"
	case surfer.DeviceTablet:
		info.Device = "Tablet"
	case surfer.DevicePhone, surfer.DeviceWearable:
		info.Device = "Mobile"
	default:
		info.Device = "Other"
	}
	return info
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the socket
// peer.  Returns nil when neither parses.
func clientIP(r *http.Request) net.IP {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}
