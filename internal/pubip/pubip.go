// Package pubip discovers the machine's public address so a host can
// print something dialable to hand to a peer.
package pubip

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	ipv4Endpoint = "https://ipinfo.io/ip"
	ipv6Endpoint = "https://ipv6.icanhazip.com"

	fetchTimeout = 5 * time.Second
)

// Family selects which address family to look up.
type Family int

const (
	V4 Family = iota
	V6
)

// Fetch queries a public echo service and returns the parsed address.
func Fetch(ctx context.Context, family Family) (net.IP, error) {
	endpoint := ipv4Endpoint
	if family == V6 {
		endpoint = ipv6Endpoint
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch public address: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch public address: status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 128))
	if err != nil {
		return nil, fmt.Errorf("fetch public address: %w", err)
	}

	ip := net.ParseIP(strings.TrimSpace(string(body)))
	if ip == nil {
		return nil, fmt.Errorf("unparseable public address %q", strings.TrimSpace(string(body)))
	}

	return ip, nil
}
