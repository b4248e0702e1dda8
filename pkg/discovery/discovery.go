// Package discovery advertises and finds relays on the local network over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/grandcat/zeroconf"
)

const (
	Service = "_lansync._tcp"
	Domain  = "local."
)

var ErrNotFound = errors.New("no relay found on the local network")

// Register advertises a relay listening on port. Shut the returned server down to withdraw it.
func Register(port int) (*zeroconf.Server, error) {
	host, _ := os.Hostname()
	instance := fmt.Sprintf("lansync-%s", host)
	server, err := zeroconf.Register(instance, Service, Domain, port, []string{"path=/ws"}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mdns service: %w", err)
	}
	slog.Info("mdns service registered", "instance", instance, "service", Service, "port", port)
	return server, nil
}

// Lookup browses until the first relay answers or ctx ends, and returns its base url.
func Lookup(ctx context.Context) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("failed to initialize mdns resolver: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan string, 1)
	go func() {
		for entry := range entries {
			if u, ok := BaseURL(entry); ok {
				slog.Info("mdns discovered relay", "instance", entry.Instance, "url", u)
				select {
				case found <- u:
				default:
				}
				cancel()
			}
		}
	}()
	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return "", fmt.Errorf("failed to browse for mdns services: %w", err)
	}
	select {
	case u := <-found:
		return u, nil
	case <-ctx.Done():
	}
	select {
	case u := <-found:
		return u, nil
	default:
		return "", ErrNotFound
	}
}

// BaseURL builds the http url of a discovered relay, preferring IPv4.
func BaseURL(entry *zeroconf.ServiceEntry) (string, bool) {
	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return "", false
	}
	return "http://" + net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)), true
}

// LocalIP returns the address other machines on the LAN can reach this one at.
func LocalIP() net.IP {
	// Nothing is sent: dialing UDP only picks the outbound interface.
	conn, err := net.Dial("udp", "192.0.2.1:80")
	if err != nil {
		return net.IPv4(127, 0, 0, 1)
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP
	}
	return net.IPv4(127, 0, 0, 1)
}
