//go:build linux

package reactor

import (
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// kernelInterest is what the epoll instance currently holds for one fd.
type kernelInterest struct {
	serial uint64
	gen    uint64
	events IOEvents
}

// epollPoller implements poller using epoll(7), in level-triggered mode.
//
// The interest list passed to wait is diffed against what was last installed,
// so a steady state costs a single epoll_wait per iteration. A changed serial
// means the fd number was reused by a new registration, and is always
// reinstalled, since the kernel may have dropped the old description on close.
//
// forget may be called from any goroutine. It removes a registration from the
// kernel immediately, since the caller is free to close the fd as soon as it
// returns, and a DEL after that close would fail while another descriptor
// keeps the description (and its epoll entry) alive.
type epollPoller struct {
	kernel map[int]kernelInterest
	// serials forgotten since the last wait, never to be installed again
	forgotten map[uint64]struct{}
	eventBuf  [256]unix.EpollEvent
	epfd      int
	gen       uint64
	mu        sync.Mutex
}

func newDefaultPoller() (poller, error) {
	return newEpollPoller()
}

func newEpollPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &epollPoller{
		kernel:    make(map[int]kernelInterest),
		forgotten: make(map[uint64]struct{}),
		epfd:      epfd,
	}, nil
}

func (p *epollPoller) wait(in []interest, timeout time.Duration, ready []readyEvent) ([]readyEvent, error) {
	p.mu.Lock()
	p.gen++

	before := len(ready)
	for _, i := range in {
		if _, ok := p.forgotten[i.serial]; ok {
			continue
		}
		if err := p.sync(i); err != nil {
			// surfaces as a read/write failure inside the handler
			ready = append(ready, readyEvent{fd: i.fd, events: EventError})
		}
	}
	for fd, k := range p.kernel {
		if k.gen != p.gen {
			p.remove(fd)
		}
	}
	// the next interest list is built after the pending removals are applied
	clear(p.forgotten)
	epfd := p.epfd
	p.mu.Unlock()

	if len(ready) != before {
		timeout = 0
	}

	n, err := unix.EpollWait(epfd, p.eventBuf[:], timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return ready, nil
		}
		return ready, os.NewSyscallError("epoll_wait", err)
	}

	for i := 0; i < n; i++ {
		ready = append(ready, readyEvent{
			fd:     int(p.eventBuf[i].Fd),
			events: epollToEvents(p.eventBuf[i].Events),
		})
	}

	return ready, nil
}

// sync installs a single interest, recording it on success.
func (p *epollPoller) sync(i interest) error {
	k, ok := p.kernel[i.fd]
	switch {
	case !ok:
		if err := p.ctl(unix.EPOLL_CTL_ADD, i); err != nil {
			return err
		}
	case k.serial != i.serial:
		p.remove(i.fd)
		if err := p.ctl(unix.EPOLL_CTL_ADD, i); err != nil {
			return err
		}
	case k.events != i.events:
		if err := p.ctl(unix.EPOLL_CTL_MOD, i); err != nil {
			// ENOENT: the fd was closed and reopened behind our back
			p.remove(i.fd)
			if err := p.ctl(unix.EPOLL_CTL_ADD, i); err != nil {
				return err
			}
		}
	}
	p.kernel[i.fd] = kernelInterest{serial: i.serial, gen: p.gen, events: i.events}
	return nil
}

func (p *epollPoller) ctl(op int, i interest) error {
	ev := unix.EpollEvent{
		Events: eventsToEpoll(i.events),
		Fd:     int32(i.fd),
	}
	return unix.EpollCtl(p.epfd, op, i.fd, &ev)
}

// remove drops fd from the epoll set. Errors are ignored: closing the last
// reference to a description removes it implicitly.
func (p *epollPoller) remove(fd int) {
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	delete(p.kernel, fd)
}

func (p *epollPoller) forget(serial uint64, fd int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.epfd < 0 {
		return
	}
	p.forgotten[serial] = struct{}{}
	if k, ok := p.kernel[fd]; ok && k.serial == serial {
		p.remove(fd)
	}
}

func (p *epollPoller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.kernel)
	clear(p.forgotten)
	epfd := p.epfd
	p.epfd = -1
	return unix.Close(epfd)
}

// eventsToEpoll converts IOEvents to epoll event flags.
func eventsToEpoll(events IOEvents) uint32 {
	var epollEvents uint32
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

// epollToEvents converts epoll event flags to IOEvents.
func epollToEvents(epollEvents uint32) IOEvents {
	var events IOEvents
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
