package pipeline

import (
	"regexp"
	"strconv"
	"strings"
)

var greppableHostPattern = regexp.MustCompile(`^Host:\s+(\S+)`)

// ParseGreppableServices extracts open services from nmap's greppable
// output (-oG -). Only ports in state "open" are kept.
//
// Line shape: Host: 10.0.0.5 ()  Ports: 80/open/tcp//http///, 22/open/tcp//ssh///
func ParseGreppableServices(output string) []Service {
	var services []Service
	for _, line := range strings.Split(output, "\n") {
		host := greppableHostPattern.FindStringSubmatch(line)
		if host == nil {
			continue
		}
		_, portsField, found := strings.Cut(line, "Ports:")
		if !found {
			continue
		}

		for _, entry := range strings.Split(portsField, ",") {
			fields := strings.Split(strings.TrimSpace(entry), "/")
			if len(fields) < 5 || fields[1] != "open" {
				continue
			}
			port, err := strconv.Atoi(fields[0])
			if err != nil {
				continue
			}
			services = append(services, Service{
				AssetValue:  host[1],
				Port:        port,
				Protocol:    fields[2],
				ServiceName: fields[4],
			})
		}
	}
	return services
}
