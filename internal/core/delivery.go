package core

import "github.com/dkeye/camrelay/internal/domain"

// DeliveryResult reports fan-out stats and backpressure to the caller.
type DeliveryResult struct {
	SentTo  int
	Dropped []domain.ConnID
}

// Peer is one addressable connection as seen by the relay.
type Peer struct {
	ID     domain.ConnID
	Role   domain.Role
	Signal SignalConnection
}
