package chat

import (
	"io"
	"net"
	"time"
)

// Client is a single chat connection: an outbound queue of raw lines this
// user sends, and an inbound wireParser that reconstructs the server's
// "author:data" framing into Messages.
type Client struct {
	conn   peerConn
	poller Poller
	parser *wireParser
	outbox [][]byte
	outOff int
	ready  []Message
}

// NewClient creates an unconnected Client.
func NewClient() *Client {
	return &Client{parser: newWireParser()}
}

// Connect dials addr (host:port) and prepares the client's event loop.
func (c *Client) Connect(addr string) error {
	if c.conn != nil {
		return ErrAlreadyStarted
	}

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return &Error{Code: CodeNoAddr, Err: err}
	}

	pc, err := newPeerConn(conn)
	if err != nil {
		conn.Close()
		return sysError(err)
	}

	poller, err := newPoller()
	if err != nil {
		conn.Close()
		return sysError(err)
	}
	if err := poller.Add(pc.Fd(), false); err != nil {
		conn.Close()
		poller.Close()
		return sysError(err)
	}

	c.conn = pc
	c.poller = poller
	return nil
}

// Feed queues a line to send to the server. A trailing newline is added if
// msg doesn't already end with one.
func (c *Client) Feed(msg []byte) error {
	if c.conn == nil {
		return ErrNotStarted
	}

	line := msg
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(append([]byte(nil), msg...), '\n')
	}

	wasEmpty := len(c.outbox) == 0
	c.outbox = append(c.outbox, line)
	if wasEmpty {
		c.poller.Modify(c.conn.Fd(), true)
	}
	return nil
}

// Update waits up to timeout for I/O readiness and services it once. It
// returns ErrTimeout if nothing was ready.
func (c *Client) Update(timeout time.Duration) error {
	if c.conn == nil {
		return ErrNotStarted
	}

	events, err := c.poller.Wait(timeout)
	if err != nil {
		return err
	}

	for _, ev := range events {
		if ev.Writable {
			if err := c.send(); err != nil {
				return err
			}
		}
		if ev.Readable {
			if err := c.receive(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Client) send() error {
	for len(c.outbox) > 0 {
		cur := c.outbox[0]
		n, err := c.conn.Write(cur[c.outOff:])
		c.outOff += n
		if err != nil {
			if err == ErrWouldBlock {
				return nil
			}
			return sysError(err)
		}

		if c.outOff < len(cur) {
			return nil
		}
		c.outbox = c.outbox[1:]
		c.outOff = 0
	}
	return c.poller.Modify(c.conn.Fd(), false)
}

func (c *Client) receive() error {
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if err == ErrWouldBlock {
				return nil
			}
			if err == io.EOF {
				return nil
			}
			return sysError(err)
		}
		if n == 0 {
			return nil
		}
		c.ready = append(c.ready, c.parser.Feed(buf[:n])...)
	}
}

// PopNext returns the next fully-parsed message received from the server,
// if any.
func (c *Client) PopNext() (Message, bool) {
	if len(c.ready) == 0 {
		return Message{}, false
	}
	m := c.ready[0]
	c.ready = c.ready[1:]
	return m, true
}

// Events reports which of EventInput/EventOutput the client currently
// wants to make progress on.
func (c *Client) Events() Events {
	if c.conn == nil {
		return 0
	}
	events := EventInput
	if len(c.outbox) > 0 {
		events |= EventOutput
	}
	return events
}

// Descriptor returns the client's underlying poll descriptor, for
// embedding in an external select/poll/epoll loop.
func (c *Client) Descriptor() int {
	if c.poller == nil {
		return -1
	}
	if d, ok := c.poller.(interface{ Fd() int }); ok {
		return d.Fd()
	}
	return -1
}

// Close disconnects the client.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	c.poller.Close()
	err := c.conn.Close()
	c.conn = nil
	return err
}
