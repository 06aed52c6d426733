//go:build linux

package chat

import (
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the real, edge-triggered readiness source: a thin wrapper
// over epoll_create1/epoll_ctl/epoll_wait, the same primitive the original
// implementation's chat_server/chat_client event loops were built on.
type epollPoller struct {
	fd int
}

func newPoller() (Poller, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &epollPoller{fd: fd}, nil
}

// Fd exposes the underlying epoll descriptor, mirroring the original
// implementation's chat_server_get_descriptor.
func (p *epollPoller) Fd() int { return p.fd }

func eventMask(writable bool) uint32 {
	mask := uint32(unix.EPOLLIN | unix.EPOLLET)
	if writable {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (p *epollPoller) Add(fd int, writable bool) error {
	ev := unix.EpollEvent{Fd: int32(fd), Events: eventMask(writable)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) Modify(fd int, writable bool) error {
	ev := unix.EpollEvent{Fd: int32(fd), Events: eventMask(writable)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) Remove(fd int) error {
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *epollPoller) Wait(timeout time.Duration) ([]Event, error) {
	raw := make([]unix.EpollEvent, 256)
	n, err := unix.EpollWait(p.fd, raw, int(timeout/time.Millisecond))
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, ErrTimeout
	}

	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = Event{
			Fd:       int(raw[i].Fd),
			Readable: raw[i].Events&unix.EPOLLIN != 0,
			Writable: raw[i].Events&unix.EPOLLOUT != 0,
		}
	}
	return out, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.fd)
}

// linuxConn reads and writes a connection's file descriptor directly via
// unix.Read/unix.Write, bypassing the runtime's own netpoller so that
// readiness is driven solely by this package's epollPoller, exactly as the
// original implementation drives reads and writes off its own epoll_wait.
type linuxConn struct {
	fd    int
	owner net.Conn
}

func newPeerConn(c net.Conn) (peerConn, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return nil, fmt.Errorf("chat: connection does not support raw fd access")
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return nil, err
	}

	var fd int
	if ctlErr := rc.Control(func(f uintptr) { fd = int(f) }); ctlErr != nil {
		return nil, ctlErr
	}

	return &linuxConn{fd: fd, owner: c}, nil
}

func (c *linuxConn) Fd() int { return c.fd }

func (c *linuxConn) Read(buf []byte) (int, error) {
	n, err := unix.Read(c.fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func (c *linuxConn) Write(buf []byte) (int, error) {
	n, err := unix.Write(c.fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func (c *linuxConn) Close() error {
	return c.owner.Close()
}
