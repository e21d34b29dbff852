package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type gateways advertise
	ServiceType = "_waterctl._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultDiscoverTimeout is the default timeout for gateway discovery
	DefaultDiscoverTimeout = 3 * time.Second

	// DefaultPort is the default gateway port
	DefaultPort = 8787

	// DefaultPath is the websocket endpoint on a gateway
	DefaultPath = "/ws"
)

// Gateway is a bridge gateway found on the local network
type Gateway struct {
	// Instance is the advertised instance name (usually the host name)
	Instance string

	// Host is the mDNS host name (e.g., "pantry-pi.local.")
	Host string

	// IP is the gateway address, IPv4 preferred
	IP string

	// Port is the websocket port
	Port int

	// Path is the websocket endpoint path
	Path string

	// Metadata contains the TXT record data ("path=/ws", "version=...")
	Metadata map[string]string

	// DiscoveredAt is when the gateway answered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the gateway
func (g *Gateway) String() string {
	return fmt.Sprintf("Gateway %s (%s) at %s:%d", g.Instance, g.Host, g.IP, g.Port)
}

// URL returns the websocket URL for the gateway
func (g *Gateway) URL() string {
	host := g.IP
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("ws://%s:%d%s", host, g.Port, g.Path)
}

// Resolver browses mDNS services. *zeroconf.Resolver satisfies it.
type Resolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// Scanner finds gateways via mDNS
type Scanner struct {
	// Timeout is the maximum time to wait for answers
	Timeout time.Duration

	// Service and Domain override the browsed service type
	Service string
	Domain  string

	// Resolver is used instead of a fresh zeroconf resolver when set
	Resolver Resolver
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultDiscoverTimeout,
		Service: ServiceType,
		Domain:  ServiceDomain,
	}
}

// Browse collects every gateway that answers before the timeout
func (s *Scanner) Browse(ctx context.Context) ([]*Gateway, error) {
	return s.browse(ctx, false)
}

// FindFirst returns the first gateway that answers
func (s *Scanner) FindFirst(ctx context.Context) (*Gateway, error) {
	gateways, err := s.browse(ctx, true)
	if err != nil {
		return nil, err
	}
	if len(gateways) == 0 {
		return nil, fmt.Errorf("no bridge gateway found within %s", s.Timeout)
	}
	return gateways[0], nil
}

func (s *Scanner) browse(ctx context.Context, first bool) ([]*Gateway, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver := s.Resolver
	if resolver == nil {
		r, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
		}
		resolver = r
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		mu       sync.Mutex
		gateways []*Gateway
		seen     = make(map[string]bool)
	)

	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				gw := parseServiceEntry(entry)
				if gw == nil {
					continue
				}
				mu.Lock()
				if !seen[gw.URL()] {
					seen[gw.URL()] = true
					gateways = append(gateways, gw)
				}
				mu.Unlock()
				if first {
					cancel()
					return
				}
			}
		}
	}()

	if err := resolver.Browse(ctx, orDefault(s.Service, ServiceType), orDefault(s.Domain, ServiceDomain), entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	<-collected

	mu.Lock()
	defer mu.Unlock()
	return gateways, nil
}

// parseServiceEntry converts a zeroconf service entry to a Gateway.
// Returns nil when the entry carries no usable address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Gateway {
	if entry == nil {
		return nil
	}

	// Get IP address (prefer IPv4)
	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	}
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}

	path := metadata["path"]
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return &Gateway{
		Instance:     entry.Instance,
		Host:         entry.HostName,
		IP:           ip,
		Port:         port,
		Path:         path,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}
