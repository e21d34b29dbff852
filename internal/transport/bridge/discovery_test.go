package bridge

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantNil  bool
		wantIP   string
		wantPort int
		wantPath string
	}{
		{
			name: "IPv4 gateway",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "pantry-pi"},
				HostName:      "pantry-pi.local.",
				Port:          8787,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.4.16")},
				Text:          []string{"path=/ws", "version=1.0.0"},
			},
			wantIP:   "192.168.4.16",
			wantPort: 8787,
			wantPath: "/ws",
		},
		{
			name: "no port and no path",
			entry: &zeroconf.ServiceEntry{
				HostName: "gw.local.",
				AddrIPv4: []net.IP{net.ParseIP("10.0.0.5")},
			},
			wantIP:   "10.0.0.5",
			wantPort: DefaultPort,
			wantPath: DefaultPath,
		},
		{
			name: "path without slash",
			entry: &zeroconf.ServiceEntry{
				HostName: "gw.local.",
				Port:     9000,
				AddrIPv4: []net.IP{net.ParseIP("10.0.0.6")},
				Text:     []string{"path=bridge"},
			},
			wantIP:   "10.0.0.6",
			wantPort: 9000,
			wantPath: "/bridge",
		},
		{
			name: "IPv6 only",
			entry: &zeroconf.ServiceEntry{
				HostName: "gw.local.",
				Port:     8787,
				AddrIPv6: []net.IP{net.ParseIP("fe80::1")},
			},
			wantIP:   "fe80::1",
			wantPort: 8787,
			wantPath: DefaultPath,
		},
		{
			name: "prefers IPv4",
			entry: &zeroconf.ServiceEntry{
				HostName: "gw.local.",
				Port:     8787,
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.50")},
				AddrIPv6: []net.IP{net.ParseIP("fe80::2")},
			},
			wantIP:   "192.168.1.50",
			wantPort: 8787,
			wantPath: DefaultPath,
		},
		{
			name:    "no address",
			entry:   &zeroconf.ServiceEntry{HostName: "gw.local.", Port: 8787},
			wantNil: true,
		},
		{
			name:    "nil entry",
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := parseServiceEntry(tt.entry)

			if tt.wantNil {
				if gw != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", gw)
				}
				return
			}
			if gw == nil {
				t.Fatal("parseServiceEntry() = nil, want gateway")
			}
			if gw.IP != tt.wantIP {
				t.Errorf("IP = %v, want %v", gw.IP, tt.wantIP)
			}
			if gw.Port != tt.wantPort {
				t.Errorf("Port = %v, want %v", gw.Port, tt.wantPort)
			}
			if gw.Path != tt.wantPath {
				t.Errorf("Path = %v, want %v", gw.Path, tt.wantPath)
			}
			if time.Since(gw.DiscoveredAt) > time.Second {
				t.Errorf("DiscoveredAt is not recent: %v", gw.DiscoveredAt)
			}
		})
	}
}

func TestParseServiceEntry_Metadata(t *testing.T) {
	gw := parseServiceEntry(&zeroconf.ServiceEntry{
		HostName: "gw.local.",
		Port:     8787,
		AddrIPv4: []net.IP{net.ParseIP("192.168.4.16")},
		Text:     []string{"path=/ws", "version=1.0.0", "flag"},
	})
	if gw == nil {
		t.Fatal("parseServiceEntry() = nil")
	}

	want := map[string]string{"path": "/ws", "version": "1.0.0", "flag": ""}
	if len(gw.Metadata) != len(want) {
		t.Errorf("Metadata has %d entries, want %d", len(gw.Metadata), len(want))
	}
	for k, v := range want {
		if got, ok := gw.Metadata[k]; !ok || got != v {
			t.Errorf("Metadata[%q] = %q, want %q", k, got, v)
		}
	}
}

func TestGateway_URL(t *testing.T) {
	tests := []struct {
		gw   Gateway
		want string
	}{
		{Gateway{IP: "192.168.4.16", Port: 8787, Path: "/ws"}, "ws://192.168.4.16:8787/ws"},
		{Gateway{IP: "fe80::1", Port: 9000, Path: "/bridge"}, "ws://[fe80::1]:9000/bridge"},
	}
	for _, tt := range tests {
		if got := tt.gw.URL(); got != tt.want {
			t.Errorf("URL() = %q, want %q", got, tt.want)
		}
	}
}

// fakeResolver answers a browse with fixed entries
type fakeResolver struct {
	entries []*zeroconf.ServiceEntry
	service string
}

func (f *fakeResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	f.service = service
	go func() {
		for _, e := range f.entries {
			select {
			case entries <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func TestScanner_Browse(t *testing.T) {
	entry := func(ip string) *zeroconf.ServiceEntry {
		return &zeroconf.ServiceEntry{HostName: "gw.local.", Port: 8787, AddrIPv4: []net.IP{net.ParseIP(ip)}}
	}
	resolver := &fakeResolver{entries: []*zeroconf.ServiceEntry{
		entry("10.0.0.1"),
		entry("10.0.0.1"), // answered twice
		{HostName: "no-address.local."},
		entry("10.0.0.2"),
	}}

	scanner := NewScanner()
	scanner.Timeout = 100 * time.Millisecond
	scanner.Resolver = resolver

	gateways, err := scanner.Browse(context.Background())
	if err != nil {
		t.Fatalf("Browse() error = %v", err)
	}
	if resolver.service != ServiceType {
		t.Errorf("browsed %q, want %q", resolver.service, ServiceType)
	}
	if len(gateways) != 2 {
		t.Fatalf("Browse() returned %d gateways, want 2", len(gateways))
	}

	first, err := scanner.FindFirst(context.Background())
	if err != nil {
		t.Fatalf("FindFirst() error = %v", err)
	}
	if first.IP != "10.0.0.1" {
		t.Errorf("FindFirst() = %v", first)
	}
}

func TestScanner_FindFirst_None(t *testing.T) {
	scanner := NewScanner()
	scanner.Timeout = 20 * time.Millisecond
	scanner.Resolver = &fakeResolver{}

	if _, err := scanner.FindFirst(context.Background()); err == nil {
		t.Error("FindFirst() succeeded with no answers")
	}
}
