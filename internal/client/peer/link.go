package peer

import (
	"github.com/confera/mesh/internal/domain"
	"github.com/confera/mesh/internal/protocol"
)

// LinkState is the explicit negotiation state of one peer link.
type LinkState int

const (
	LinkUninitialized LinkState = iota
	LinkNegotiating
	LinkStable
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkUninitialized:
		return "uninitialized"
	case LinkNegotiating:
		return "negotiating"
	case LinkStable:
		return "stable"
	case LinkClosed:
		return "closed"
	}
	return "unknown"
}

// Role records which side initiated the link. The newcomer to a room
// initiates; incumbents respond.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// link is the per-remote-handle connection record. All access is
// serialized by the manager's mutex.
type link struct {
	handle    domain.Handle
	role      Role
	state     LinkState
	transport MediaTransport

	// awaitingAnswer is true while a locally produced offer has no
	// answer yet; a remote offer arriving in that window is glare.
	awaitingAnswer bool

	// remoteSet tracks whether a remote description has been applied;
	// candidates arriving earlier wait in pending.
	remoteSet bool
	pending   []protocol.SignalData
}
