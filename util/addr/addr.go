// Package addr picks the address a listener is advertised under.
package addr

import (
	"errors"
	"fmt"
	"net"
)

var (
	ErrorInvalidAddr = errors.New("ip addr is invalid")
	ErrorIPNotFound  = errors.New("no IP address found, and explicit IP not provided")
)

var privateBlocks = parseBlocks("10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "100.64.0.0/10", "fd00::/8")

func parseBlocks(bs ...string) []*net.IPNet {
	var out []*net.IPNet

	for _, b := range bs {
		if _, block, err := net.ParseCIDR(b); err == nil {
			out = append(out, block)
		}
	}

	return out
}

func isPrivate(ip net.IP) bool {
	for _, b := range privateBlocks {
		if b.Contains(ip) {
			return true
		}
	}

	return false
}

func isWildcard(host string) bool {
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		return true
	default:
		return false
	}
}

// interfaceIPs lists the addresses of every interface, loopback ones last.
func interfaceIPs() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to get interfaces %w", err)
	}

	var ips, lo []net.IP

	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, a := range addrs {
			var ip net.IP

			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}

			switch {
			case ip == nil:
			case iface.Flags&net.FlagLoopback != 0:
				lo = append(lo, ip)
			default:
				ips = append(ips, ip)
			}
		}
	}

	return append(ips, lo...), nil
}

// Advertise turns a listen address into one reachable by subscribers. A
// wildcard or empty host is replaced by an interface address.
func Advertise(listen string) (string, error) {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", fmt.Errorf("failed to split %q %w", listen, ErrorInvalidAddr)
	}

	ip, err := Extract(host)
	if err != nil {
		return "", err
	}

	return net.JoinHostPort(ip, port), nil
}

// Extract returns host unless it is a wildcard. Otherwise it picks the first
// private interface address, then a public one, loopback last.
func Extract(host string) (string, error) {
	if !isWildcard(host) {
		return host, nil
	}

	ips, err := interfaceIPs()
	if err != nil {
		return "", err
	}

	var public, loopback net.IP

	for _, ip := range ips {
		switch {
		case ip.IsLoopback():
			if loopback == nil {
				loopback = ip
			}
		case isPrivate(ip):
			return ip.String(), nil
		case public == nil && !ip.IsLinkLocalUnicast():
			public = ip
		}
	}

	if public != nil {
		return public.String(), nil
	}

	if loopback != nil {
		return loopback.String(), nil
	}

	return "", ErrorIPNotFound
}

// IsLocal reports whether the host of addr belongs to this machine.
func IsLocal(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err == nil {
		addr = host
	}

	if addr == "localhost" {
		return true
	}

	ips, err := interfaceIPs()
	if err != nil {
		return false
	}

	for _, ip := range ips {
		if ip.String() == addr {
			return true
		}
	}

	return false
}
