package dialer

import (
	"context"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/peergrid/network/pkg/errors"
)

// HostRegistry is a Registry backed by a libp2p host. A peer is known if
// the peerstore holds addresses for it or a connection already exists;
// anything else is a lookup failure, which the scheduler treats as not
// connected.
type HostRegistry struct {
	host host.Host
}

// NewHostRegistry creates a registry over the given host.
func NewHostRegistry(h host.Host) *HostRegistry {
	return &HostRegistry{host: h}
}

// Lookup implements Registry.
func (r *HostRegistry) Lookup(id peer.ID) (PeerInfo, error) {
	if r.host.Network().Connectedness(id) == network.Connected {
		return hostPeerInfo{host: r.host, id: id}, nil
	}
	if len(r.host.Peerstore().Addrs(id)) == 0 {
		return nil, errors.NewNotFoundError(id.String())
	}
	return hostPeerInfo{host: r.host, id: id}, nil
}

type hostPeerInfo struct {
	host host.Host
	id   peer.ID
}

func (p hostPeerInfo) Connected() bool {
	return p.host.Network().Connectedness(p.id) == network.Connected
}

// HostTransport is a Transport backed by a libp2p host. A hot dial opens
// a stream on the requested protocol after connecting, so protocol
// negotiation failures surface to the request's callback; a cold dial is
// a bare connect.
type HostTransport struct {
	host host.Host
}

// NewHostTransport creates a transport over the given host.
func NewHostTransport(h host.Host) *HostTransport {
	return &HostTransport{host: h}
}

// Dial implements Transport.
func (t *HostTransport) Dial(ctx context.Context, id peer.ID, proto protocol.ID) error {
	info := t.host.Peerstore().PeerInfo(id)
	if len(info.Addrs) == 0 && t.host.Network().Connectedness(id) != network.Connected {
		return errors.ErrNoAddresses
	}

	if err := t.host.Connect(ctx, info); err != nil {
		return errors.NewNetworkError(id.String(), err)
	}

	if proto != "" {
		s, err := t.host.NewStream(ctx, id, proto)
		if err != nil {
			return errors.NewNetworkError(id.String(), err)
		}
		// The stream existed only to negotiate the protocol; the caller
		// opens its own when it needs one.
		_ = s.Close()
	}
	return nil
}
