package pipeline

import "fmt"

// Web ports considered eligible for vulnerability scanning, and the subset
// served over TLS.
var (
	webPorts = map[int]bool{
		80: true, 443: true, 8080: true, 8443: true,
		8888: true, 3000: true, 3443: true, 8000: true,
	}
	tlsPorts = map[int]bool{443: true, 8443: true, 3443: true}
)

// IsWebPort reports whether an open service on this port qualifies for a
// web vulnerability scan.
func IsWebPort(port int) bool {
	return webPorts[port]
}

// ServiceURL builds the scan URL for a host/port pair. TLS ports get the
// https scheme; the port suffix is omitted only for the canonical pairs
// 80/http and 443/https.
func ServiceURL(host string, port int) string {
	scheme := "http"
	if tlsPorts[port] {
		scheme = "https"
	}
	if (port == 80 && scheme == "http") || (port == 443 && scheme == "https") {
		return fmt.Sprintf("%s://%s", scheme, host)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// ScanURLs maps discovered services onto a deduplicated URL list, keeping
// only web ports. Order follows first appearance.
func ScanURLs(services []Service) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, svc := range services {
		if !IsWebPort(svc.Port) {
			continue
		}
		url := ServiceURL(svc.AssetValue, svc.Port)
		if seen[url] {
			continue
		}
		seen[url] = true
		urls = append(urls, url)
	}
	return urls
}
