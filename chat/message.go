// Package chat implements a line-oriented, author-prefixed broadcast chat
// protocol over TCP: a Server relays every line one peer sends to every
// other connected peer, and admin-fed lines are replayed to late joiners.
// Both Server and Client run a single-threaded, non-blocking event loop
// driven by a Poller, matching the original implementation's epoll-based
// design rather than the one-goroutine-per-connection style more common in
// idiomatic Go servers.
package chat

// Message is one fully parsed chat line.
//
// Data excludes the line's terminating newline: the parser consumes up to
// and including the "\n" but only keeps the payload before it, mirroring
// the original client's parse_data stopping at new_line_index.
type Message struct {
	Author string
	Data   []byte
}
