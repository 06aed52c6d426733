package chat

import "time"

// Event reports readiness for one registered file descriptor.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
}

// Poller is the non-blocking I/O readiness source the server and client
// event loops run on. Linux gets a real epoll-backed implementation;
// every other platform falls back to a portable poller built entirely on
// the standard library, so the package still compiles and behaves
// correctly off Linux at some cost in efficiency.
type Poller interface {
	// Add registers fd for readability, and for writability too if
	// writable is set.
	Add(fd int, writable bool) error
	// Modify changes fd's registered interest set.
	Modify(fd int, writable bool) error
	// Remove deregisters fd. Removing an fd that was never added is not
	// an error.
	Remove(fd int) error
	// Wait blocks up to timeout for at least one event, returning
	// ErrTimeout if none arrived in time.
	Wait(timeout time.Duration) ([]Event, error)
	Close() error
}

// peerConn is the non-blocking duplex byte stream the chat event loops
// read and write: EAGAIN and its friends surface as ErrWouldBlock so
// server.go and client.go never need to import golang.org/x/sys/unix
// directly.
type peerConn interface {
	Fd() int
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Close() error
}
