// Package discovery advertises collaboration servers on the local network
// over mDNS and finds the ones already running.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
)

const (
	DefaultService = "_collabtext._tcp"
	DefaultDomain  = "local."
)

// Peer is a server found on the network.
type Peer struct {
	Instance string
	Host     string
	Addrs    []net.IP
	Port     int
	Text     []string
}

// Address returns host:port for the peer's first address, falling back to
// its host name.
func (p Peer) Address() string {
	host := p.Host
	if len(p.Addrs) > 0 {
		host = p.Addrs[0].String()
	}
	return net.JoinHostPort(host, fmt.Sprint(p.Port))
}

// Announcement is a registered mDNS service. Shutdown withdraws it.
type Announcement struct {
	server *zeroconf.Server
}

func (a *Announcement) Shutdown() {
	a.server.Shutdown()
}

// Announce registers this server under service. The instance name is
// derived from the host name and the relay instance id so that several
// servers on one host stay distinct.
func Announce(service, domain, instanceID string, port int, log zerolog.Logger) (*Announcement, error) {
	if service == "" {
		service = DefaultService
	}
	if domain == "" {
		domain = DefaultDomain
	}
	host, _ := os.Hostname()
	name := fmt.Sprintf("CollabText-%s-%.8s", host, instanceID)

	server, err := zeroconf.Register(name, service, domain, port, []string{"txtv=0", "instance=" + instanceID}, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}
	log.Info().Str("service", service).Str("name", name).Int("port", port).Msg("mDNS service registered")
	return &Announcement{server: server}, nil
}

// Browse reports peers advertising service until ctx is done.
func Browse(ctx context.Context, service, domain string, found func(Peer)) error {
	if service == "" {
		service = DefaultService
	}
	if domain == "" {
		domain = DefaultDomain
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("initialize mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				found(peerFromEntry(entry))
			case <-ctx.Done():
				return
			}
		}
	}()
	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return fmt.Errorf("browse mDNS services: %w", err)
	}
	<-ctx.Done()
	return nil
}

func peerFromEntry(e *zeroconf.ServiceEntry) Peer {
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	return Peer{
		Instance: e.Instance,
		Host:     e.HostName,
		Addrs:    addrs,
		Port:     e.Port,
		Text:     e.Text,
	}
}
