// Package corobus implements an in-process, multi-channel message bus.
//
// A Bus owns a sparse collection of Channels, each a bounded FIFO of uint32
// messages with independent send- and receive-wait queues. Blocking
// operations park the calling goroutine on a private wakeup channel appended
// to the relevant wait queue, then re-check their predicate on wakeup -- the
// wakeup is a hint, not a guarantee, so every blocking op loops around
// try-then-wait rather than assuming success after one wakeup.
package corobus

import (
	"context"
	"fmt"
	"log"
	"runtime"

	"github.com/jacobsa/syncutil"
)

// Code identifies the kind of failure reported by an Error.
type Code int

const (
	// CodeNone is never returned as an Error; operations that succeed return
	// a nil error.
	CodeNone Code = iota
	CodeNoChannel
	CodeWouldBlock
	CodeNotImplemented
)

// Error is the closed error enum exposed by this package, mirroring the
// original implementation's coro_bus_errno.
type Error struct {
	Code Code
}

func (e *Error) Error() string {
	switch e.Code {
	case CodeNoChannel:
		return "corobus: no such channel"
	case CodeWouldBlock:
		return "corobus: would block"
	case CodeNotImplemented:
		return "corobus: not implemented"
	default:
		return fmt.Sprintf("corobus: error code %d", e.Code)
	}
}

// Is reports whether target names the same Code, so callers can use
// errors.Is(err, corobus.ErrNoChannel) rather than type-asserting.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Code == e.Code
}

var (
	ErrNoChannel       error = &Error{CodeNoChannel}
	ErrWouldBlock      error = &Error{CodeWouldBlock}
	ErrNotImplemented  error = &Error{CodeNotImplemented}
)

// Handle identifies an open channel. Handles are small non-negative
// integers, stable across a channel's lifetime and reused after Close.
type Handle int

// A waiter is one goroutine parked on a channel's send or recv wait queue.
type waiter struct {
	wake chan struct{}
}

func newWaiter() *waiter { return &waiter{wake: make(chan struct{})} }

// waitQueue is a FIFO list of parked waiters. Closing a waiter's wake
// channel both satisfies "wakeup one" (close just the head) and "wakeup
// all" (close every entry) -- a closed channel never blocks a receive.
type waitQueue struct {
	entries []*waiter
}

func (q *waitQueue) add(w *waiter) {
	q.entries = append(q.entries, w)
}

func (q *waitQueue) remove(w *waiter) {
	for i, e := range q.entries {
		if e == w {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

func (q *waitQueue) wakeFirst() {
	if len(q.entries) == 0 {
		return
	}
	close(q.entries[0].wake)
	q.entries = q.entries[1:]
}

func (q *waitQueue) wakeAll() {
	for _, e := range q.entries {
		close(e.wake)
	}
	q.entries = nil
}

// channel is a bounded FIFO of uint32 messages plus its two wait queues.
//
// GUARDED_BY(Bus.mu)
type channel struct {
	limit int
	data  []uint32
	send  waitQueue
	recv  waitQueue
}

// Bus is a collection of Channels addressed by small reusable Handles. All
// state is guarded by a single mutex; there is no further internal
// concurrency beyond the parked-goroutine wakeup channels.
type Bus struct {
	mu       syncutil.InvariantMutex
	channels []*channel // GUARDED_BY(mu); nil entries are free slots
	logger   *log.Logger
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithLogger overrides the Bus's logger. The default discards output.
func WithLogger(l *log.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger: log.New(nil404Writer{}, "", 0),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.mu = syncutil.NewInvariantMutex(b.checkInvariants)
	return b
}

type nil404Writer struct{}

func (nil404Writer) Write(p []byte) (int, error) { return len(p), nil }

func (b *Bus) checkInvariants() {
	for _, c := range b.channels {
		if c == nil {
			continue
		}
		if len(c.data) > c.limit {
			panic(fmt.Sprintf("channel over limit: %d > %d", len(c.data), c.limit))
		}
	}
}

func (b *Bus) exists(h Handle) bool {
	return int(h) >= 0 && int(h) < len(b.channels) && b.channels[h] != nil
}

// Open allocates a new channel bounded at limit messages, reusing the
// lowest-numbered free slot if one exists.
func (b *Bus) Open(limit int) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := &channel{limit: limit}
	for i, slot := range b.channels {
		if slot == nil {
			b.channels[i] = c
			return Handle(i)
		}
	}
	b.channels = append(b.channels, c)
	return Handle(len(b.channels) - 1)
}

// Close closes the given channel, waking every suspended waiter with
// ErrNoChannel. The slot is published as free before the wakeups run so
// racing callers observe the closure; a single Gosched between publish and
// release gives woken goroutines a chance to re-poll before the channel's
// backing memory is dropped, mirroring the single coro_yield() of the
// original implementation.
func (b *Bus) Close(h Handle) {
	b.mu.Lock()
	if !b.exists(h) {
		b.mu.Unlock()
		return
	}
	c := b.channels[h]
	b.channels[h] = nil
	c.send.wakeAll()
	c.recv.wakeAll()
	b.mu.Unlock()

	runtime.Gosched()
}

// TrySend attempts to enqueue v without blocking.
func (b *Bus) TrySend(h Handle, v uint32) error {
	_, err := b.trySendV(h, []uint32{v})
	return err
}

// Send enqueues v, blocking while the channel is full.
func (b *Bus) Send(ctx context.Context, h Handle, v uint32) error {
	_, err := b.sendV(ctx, h, []uint32{v})
	return err
}

// TryRecv attempts to dequeue one message without blocking.
func (b *Bus) TryRecv(h Handle) (uint32, error) {
	out := make([]uint32, 1)
	if _, err := b.tryRecvV(h, out); err != nil {
		return 0, err
	}
	return out[0], nil
}

// Recv dequeues one message, blocking while the channel is empty.
func (b *Bus) Recv(ctx context.Context, h Handle) (uint32, error) {
	out := make([]uint32, 1)
	_, err := b.recvV(ctx, h, out)
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// TrySendV transfers min(len(data), limit-len(queue)) messages without
// blocking, returning the count actually transferred. A partial transfer
// (count > 0 but less than len(data)) is not an error.
func (b *Bus) TrySendV(h Handle, data []uint32) (int, error) {
	return b.trySendV(h, data)
}

// SendV blocks only while the channel is completely full, then behaves like
// TrySendV.
func (b *Bus) SendV(ctx context.Context, h Handle, data []uint32) (int, error) {
	return b.sendV(ctx, h, data)
}

// TryRecvV drains up to len(capacity) messages into capacity without
// blocking, returning the count actually read.
func (b *Bus) TryRecvV(h Handle, capacity []uint32) (int, error) {
	return b.tryRecvV(h, capacity)
}

// RecvV blocks only while the channel is completely empty, then behaves like
// TryRecvV.
func (b *Bus) RecvV(ctx context.Context, h Handle, capacity []uint32) (int, error) {
	return b.recvV(ctx, h, capacity)
}

func (b *Bus) trySendV(h Handle, data []uint32) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.exists(h) {
		return 0, ErrNoChannel
	}
	c := b.channels[h]
	if len(c.data) == c.limit {
		return 0, ErrWouldBlock
	}

	room := c.limit - len(c.data)
	n := len(data)
	if n > room {
		n = room
	}
	c.data = append(c.data, data[:n]...)
	c.recv.wakeFirst()
	return n, nil
}

func (b *Bus) sendV(ctx context.Context, h Handle, data []uint32) (int, error) {
	for {
		n, err := b.trySendV(h, data)
		if err == nil {
			b.mu.Lock()
			if c := b.channelOrNil(h); c != nil && len(c.data) < c.limit {
				c.send.wakeFirst()
			}
			b.mu.Unlock()
			return n, nil
		}
		if err != ErrWouldBlock {
			return 0, err
		}
		if err := b.parkOnSend(ctx, h); err != nil {
			return 0, err
		}
	}
}

func (b *Bus) tryRecvV(h Handle, capacity []uint32) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.exists(h) {
		return 0, ErrNoChannel
	}
	c := b.channels[h]
	if len(c.data) == 0 {
		return 0, ErrWouldBlock
	}

	n := len(capacity)
	if n > len(c.data) {
		n = len(c.data)
	}
	copy(capacity, c.data[:n])
	c.data = c.data[n:]
	c.send.wakeFirst()
	return n, nil
}

func (b *Bus) recvV(ctx context.Context, h Handle, capacity []uint32) (int, error) {
	for {
		n, err := b.tryRecvV(h, capacity)
		if err == nil {
			b.mu.Lock()
			if c := b.channelOrNil(h); c != nil && len(c.data) > 0 {
				c.recv.wakeFirst()
			}
			b.mu.Unlock()
			return n, nil
		}
		if err != ErrWouldBlock {
			return 0, err
		}
		if err := b.parkOnRecv(ctx, h); err != nil {
			return 0, err
		}
	}
}

func (b *Bus) channelOrNil(h Handle) *channel {
	if !b.exists(h) {
		return nil
	}
	return b.channels[h]
}

// parkOnSend suspends the caller on channel h's send queue until woken by a
// receiver, a Close (ErrNoChannel), or ctx cancellation.
func (b *Bus) parkOnSend(ctx context.Context, h Handle) error {
	b.mu.Lock()
	if !b.exists(h) {
		b.mu.Unlock()
		return ErrNoChannel
	}
	w := newWaiter()
	b.channels[h].send.add(w)
	b.mu.Unlock()

	select {
	case <-w.wake:
		if !b.exists(h) {
			return ErrNoChannel
		}
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		if c := b.channelOrNil(h); c != nil {
			c.send.remove(w)
		}
		b.mu.Unlock()
		return ctx.Err()
	}
}

// parkOnRecv is the receive-side mirror of parkOnSend.
func (b *Bus) parkOnRecv(ctx context.Context, h Handle) error {
	b.mu.Lock()
	if !b.exists(h) {
		b.mu.Unlock()
		return ErrNoChannel
	}
	w := newWaiter()
	b.channels[h].recv.add(w)
	b.mu.Unlock()

	select {
	case <-w.wake:
		if !b.exists(h) {
			return ErrNoChannel
		}
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		if c := b.channelOrNil(h); c != nil {
			c.recv.remove(w)
		}
		b.mu.Unlock()
		return ctx.Err()
	}
}

// TryBroadcast requires every currently open channel to have free space,
// atomically; if any is full it reports ErrWouldBlock without enqueuing
// anywhere. It fails with ErrNoChannel iff zero channels are open.
func (b *Bus) TryBroadcast(v uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	any := false
	for _, c := range b.channels {
		if c == nil {
			continue
		}
		any = true
		if len(c.data) == c.limit {
			return ErrWouldBlock
		}
	}
	if !any {
		return ErrNoChannel
	}

	for _, c := range b.channels {
		if c == nil {
			continue
		}
		c.data = append(c.data, v)
		c.recv.wakeFirst()
	}
	return nil
}

// Broadcast blocks until it can deliver v to every open channel at once. On
// WouldBlock it parks on the send queue of the first full channel found and
// retries the whole broadcast from scratch on wakeup; it does not re-scan
// for a different channel first, so broadcast fairness across channels is
// not guaranteed -- this matches the original implementation, which the
// specification leaves unresolved rather than redesigning.
func (b *Bus) Broadcast(ctx context.Context, v uint32) error {
	for {
		err := b.TryBroadcast(v)
		if err == nil {
			b.mu.Lock()
			for _, c := range b.channels {
				if c != nil && len(c.data) < c.limit {
					c.send.wakeFirst()
				}
			}
			b.mu.Unlock()
			return nil
		}
		if err != ErrWouldBlock {
			return err
		}

		b.mu.Lock()
		var full *channel
		for _, c := range b.channels {
			if c != nil && len(c.data) == c.limit {
				full = c
				break
			}
		}
		if full == nil {
			// Someone drained it already; loop and retry immediately.
			b.mu.Unlock()
			continue
		}
		w := newWaiter()
		full.send.add(w)
		b.mu.Unlock()

		select {
		case <-w.wake:
		case <-ctx.Done():
			b.mu.Lock()
			full.send.remove(w)
			b.mu.Unlock()
			return ctx.Err()
		}
	}
}
