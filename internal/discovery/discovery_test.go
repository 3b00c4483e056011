package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
)

func TestPeerFromEntry(t *testing.T) {
	entry := zeroconf.NewServiceEntry("CollabText-box", DefaultService, DefaultDomain)
	entry.HostName = "box.local."
	entry.Port = 8081
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	entry.Text = []string{"txtv=0"}

	p := peerFromEntry(entry)
	assert.Equal(t, "CollabText-box", p.Instance)
	assert.Equal(t, "192.168.1.20:8081", p.Address())
	assert.Equal(t, []string{"txtv=0"}, p.Text)
}

func TestPeerAddressFallsBackToHost(t *testing.T) {
	p := Peer{Host: "box.local.", Port: 9000}
	assert.Equal(t, "box.local.:9000", p.Address())
}
