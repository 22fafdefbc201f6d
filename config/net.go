package config

import (
	"fmt"
	"net"
	"strconv"
)

// CanonicalHostPort returns hostport as host:port, adding defaultPort if it
// has none. IP addresses are normalized, with IPv6 bracketed.
func CanonicalHostPort(hostport string, defaultPort int) (string, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		// SplitHostPort gives an error for a missing port, so we'll just
		// assume that and tack on the port and try again.
		host, port, err = net.SplitHostPort(net.JoinHostPort(hostport, strconv.Itoa(defaultPort)))
		if err != nil {
			// A bracketed IPv6 host without a port.
			host, port, err = net.SplitHostPort(fmt.Sprintf("%s:%d", hostport, defaultPort))
			if err != nil {
				return "", err
			}
		}
	}
	if ip := net.ParseIP(host); ip != nil {
		host = ip.String()
	}
	portInt, err := strconv.Atoi(port)
	if err != nil {
		return "", err
	}
	if portInt < 1 || portInt > 65535 {
		return "", fmt.Errorf("port %d out of range", portInt)
	}
	return net.JoinHostPort(host, strconv.Itoa(portInt)), nil
}
