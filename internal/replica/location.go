package replica

import (
	"net"
	"os"
)

// Location is the client-location descriptor a geoip-sorted catalog query
// expects, matching detect_client_location's returned dict(ip, fqdn, site).
type Location struct {
	IP   string
	FQDN string
	Site string
}

// siteNameVars lists the environment variables detect_client_location checks
// in order before falling back to "unknown".
var siteNameVars = []string{"PILOT_SITENAME", "SITE_NAME", "ATLAS_SITE_NAME", "OSG_SITE_NAME"}

// DetectClientLocation opens a UDP "connection" to a well-known public
// address purely to let the OS pick the outbound-facing local IP (no packets
// are actually sent, matching detect_client_location's comment). Returns the
// zero Location if the probe fails — callers should treat that as "no
// location available" and fall back to an unsorted catalog query, not as a
// fatal error.
func DetectClientLocation() Location {
	site := firstEnv(siteNameVars, "unknown")

	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return Location{}
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return Location{}
	}
	fqdn := localAddr.IP.String()
	if names, err := net.LookupAddr(localAddr.IP.String()); err == nil && len(names) > 0 {
		fqdn = names[0]
	}
	return Location{IP: localAddr.IP.String(), FQDN: fqdn, Site: site}
}

func firstEnv(names []string, fallback string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return fallback
}
