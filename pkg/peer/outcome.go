package peer

import (
	"time"

	"github.com/RaxTzu/AtlasP2P/pkg/wire"
)

// Classification is the terminal (or in-flight) state of a probed endpoint.
type Classification string

const (
	Unprobed    Classification = "unprobed"
	InFlight    Classification = "in-flight"
	Reachable   Classification = "reachable"
	Unreachable Classification = "unreachable"
	Stale       Classification = "stale"
)

// SessionOutcome is the observable result of driving one PeerSession to
// completion: everything the AddressBook and Scheduler need to fold the
// probe back into their state.
type SessionOutcome struct {
	Endpoint       wire.Endpoint
	Classification Classification
	VersionPayload *wire.VersionPayload
	Learned        []wire.NetAddr
	RTT            time.Duration
	ErrorKind      ErrorKind
	Attempt        int
}
