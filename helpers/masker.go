package helpers

import "strings"

// MaskAddress redacts the host portion of an IP address for log output.
// IPv4 addresses keep their first two octets ("203.0.*.*"), IPv6 addresses
// keep their first two groups. Anything unrecognized is returned unchanged
// rather than risking a confusing log line.
func MaskAddress(addr string) string {
	if addr == "" {
		return addr
	}

	if strings.Contains(addr, ".") {
		parts := strings.Split(addr, ".")
		if len(parts) == 4 {
			return parts[0] + "." + parts[1] + ".*.*"
		}
		return addr
	}

	if strings.Contains(addr, ":") {
		parts := strings.Split(addr, ":")
		if len(parts) > 2 {
			return parts[0] + ":" + parts[1] + ":*"
		}
	}

	return addr
}
