package core

// Frame is a marshalled relay message ready for the wire.
type Frame []byte

// SignalConnection abstracts one participant's messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
