package core

// Frame is one encoded outbound message.
type Frame []byte

// SignalConnection abstracts the duplex transport of one connection.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
