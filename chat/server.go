package chat

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// peer is one connected client: its raw connection, its self-announced
// name (the first line it ever sends), and its pending outbound lines.
type peer struct {
	conn   peerConn
	name   string
	named  bool
	split  lineSplitter
	outbox [][]byte
	outOff int
}

// Server is a broadcast chat server: every line a peer sends is relayed,
// author-prefixed, to every other connected peer. Feed lets the owning
// process inject its own "server"-authored lines, which are additionally
// replayed to every peer that joins afterward.
type Server struct {
	listener net.Listener
	listenFd int
	poller   Poller

	peers   []*peer
	replay  [][]byte  // wire-framed "server:...\n" lines replayed to new joiners
	inbound []Message // messages ready for PopNext
}

// New creates an unstarted Server.
func New() *Server {
	return &Server{}
}

// Listen starts accepting TCP connections on port, across all local
// addresses.
func (s *Server) Listen(port int) error {
	if s.listener != nil {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return &Error{Code: CodePortBusy, Err: err}
	}

	fd, err := listenerFd(ln)
	if err != nil {
		ln.Close()
		return sysError(err)
	}

	poller, err := newPoller()
	if err != nil {
		ln.Close()
		return sysError(err)
	}
	if err := poller.Add(fd, false); err != nil {
		ln.Close()
		poller.Close()
		return sysError(err)
	}

	s.listener = ln
	s.listenFd = fd
	s.poller = poller
	return nil
}

// listenerFd extracts a listener's raw file descriptor via the portable
// syscall.Conn interface, which both net.TCPListener and net.TCPConn
// implement.
func listenerFd(ln net.Listener) (int, error) {
	sc, ok := ln.(syscall.Conn)
	if !ok {
		return -1, fmt.Errorf("chat: listener does not support raw fd access")
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}

	var fd int
	if ctlErr := rc.Control(func(f uintptr) { fd = int(f) }); ctlErr != nil {
		return -1, ctlErr
	}
	return fd, nil
}

// Port returns the TCP port the server is bound to, useful after Listen(0)
// picks an ephemeral one.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Update waits up to timeout for I/O readiness and services every ready
// connection once: accepting new peers, relaying finished lines, and
// draining pending writes. It returns ErrTimeout if nothing was ready.
func (s *Server) Update(timeout time.Duration) error {
	if s.listener == nil {
		return ErrNotStarted
	}

	events, err := s.poller.Wait(timeout)
	if err != nil {
		return err
	}

	for _, ev := range events {
		if ev.Fd == s.listenFd {
			if err := s.acceptClients(); err != nil {
				return err
			}
			continue
		}

		p := s.peerByFd(ev.Fd)
		if p == nil {
			continue
		}
		if ev.Readable {
			if err := s.receiveFromClient(p); err != nil {
				return err
			}
		}
		if ev.Writable {
			if err := s.sendToClient(p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Server) peerByFd(fd int) *peer {
	for _, p := range s.peers {
		if p.conn.Fd() == fd {
			return p
		}
	}
	return nil
}

func (s *Server) acceptClients() error {
	tl, ok := s.listener.(*net.TCPListener)
	if !ok {
		return sysError(fmt.Errorf("chat: listener is not TCP"))
	}

	for {
		tl.SetDeadline(time.Now().Add(time.Millisecond))
		conn, err := tl.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil
			}
			return sysError(err)
		}

		pc, err := newPeerConn(conn)
		if err != nil {
			conn.Close()
			continue
		}

		p := &peer{conn: pc}
		writable := len(s.replay) > 0
		if err := s.poller.Add(pc.Fd(), writable); err != nil {
			conn.Close()
			continue
		}
		p.outbox = append(p.outbox, s.replay...)

		s.peers = append(s.peers, p)
	}
}

func (s *Server) receiveFromClient(p *peer) error {
	buf := make([]byte, 4096)
	for {
		n, err := p.conn.Read(buf)
		if err != nil {
			if err == ErrWouldBlock {
				return nil
			}
			if err == io.EOF {
				s.dropPeer(p)
				return nil
			}
			s.dropPeer(p)
			return sysError(err)
		}
		if n == 0 {
			s.dropPeer(p)
			return nil
		}

		for _, line := range p.split.Feed(buf[:n]) {
			if !p.named {
				p.name = string(bytes.TrimRight(line, "\n"))
				p.named = true
				continue
			}

			s.inbound = append(s.inbound, Message{
				Author: p.name,
				Data:   append([]byte(nil), bytes.TrimRight(line, "\n")...),
			})
			s.broadcastLine(p, line)
		}
	}
}

func (s *Server) broadcastLine(from *peer, line []byte) {
	framed := make([]byte, 0, len(from.name)+1+len(line))
	framed = append(framed, from.name...)
	framed = append(framed, ':')
	framed = append(framed, line...)

	for _, p := range s.peers {
		if p == from {
			continue
		}
		s.enqueue(p, framed)
	}
}

func (s *Server) enqueue(p *peer, framed []byte) {
	wasEmpty := len(p.outbox) == 0
	p.outbox = append(p.outbox, framed)
	if wasEmpty {
		s.poller.Modify(p.conn.Fd(), true)
	}
}

func (s *Server) sendToClient(p *peer) error {
	for len(p.outbox) > 0 {
		cur := p.outbox[0]
		n, err := p.conn.Write(cur[p.outOff:])
		p.outOff += n
		if err != nil {
			if err == ErrWouldBlock {
				return nil
			}
			s.dropPeer(p)
			return sysError(err)
		}

		if p.outOff < len(cur) {
			return nil
		}
		p.outbox = p.outbox[1:]
		p.outOff = 0
	}
	return s.poller.Modify(p.conn.Fd(), false)
}

func (s *Server) dropPeer(p *peer) {
	s.poller.Remove(p.conn.Fd())
	p.conn.Close()
	for i, x := range s.peers {
		if x == p {
			s.peers = append(s.peers[:i], s.peers[i+1:]...)
			break
		}
	}
}

// Feed broadcasts a "server"-authored line to every connected peer, and
// remembers it to replay to peers that join afterward.
func (s *Server) Feed(msg []byte) error {
	if s.listener == nil {
		return ErrNotStarted
	}

	line := msg
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(append([]byte(nil), msg...), '\n')
	}

	framed := make([]byte, 0, len("server")+1+len(line))
	framed = append(framed, "server"...)
	framed = append(framed, ':')
	framed = append(framed, line...)

	s.replay = append(s.replay, framed)
	for _, p := range s.peers {
		s.enqueue(p, framed)
	}
	return nil
}

// PopNext returns the next message received from a peer, if any.
func (s *Server) PopNext() (Message, bool) {
	if len(s.inbound) == 0 {
		return Message{}, false
	}
	m := s.inbound[0]
	s.inbound = s.inbound[1:]
	return m, true
}

// Events reports which of EventInput/EventOutput the server currently
// wants to make progress on.
func (s *Server) Events() Events {
	if s.listener == nil {
		return 0
	}
	events := EventInput
	for _, p := range s.peers {
		if len(p.outbox) > 0 {
			events |= EventOutput
			break
		}
	}
	return events
}

// Descriptor returns the server's underlying poll descriptor, for
// embedding in an external select/poll/epoll loop.
func (s *Server) Descriptor() int {
	if s.poller == nil {
		return -1
	}
	if d, ok := s.poller.(interface{ Fd() int }); ok {
		return d.Fd()
	}
	return -1
}

// Close shuts the server down, closing every peer connection.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	for _, p := range s.peers {
		p.conn.Close()
	}
	s.peers = nil
	s.poller.Close()

	err := s.listener.Close()
	s.listener = nil
	return err
}
