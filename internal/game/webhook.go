package game

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// ValidateWebhookTarget accepts only http(s) URLs whose host is a public name
// or a publicly routable IP. Hostnames are not resolved.
func ValidateWebhookTarget(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWebhookTarget, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", ErrInvalidWebhookTarget, u.Scheme)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidWebhookTarget)
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: %s is local", ErrInvalidWebhookTarget, host)
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() || addr.IsMulticast() || addr.IsUnspecified() || sharedAddressSpace.Contains(addr) {
		return fmt.Errorf("%w: %s is not publicly routable", ErrInvalidWebhookTarget, addr)
	}
	return nil
}
