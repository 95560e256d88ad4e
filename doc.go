// Package reactor provides a single-goroutine I/O readiness reactor for
// Unix platforms.
//
// # Architecture
//
// A [Reactor] owns a set of [Selectable] implementations, keyed by file
// descriptor. A dedicated loop goroutine, locked to its OS thread, runs the
// following, once per iteration:
//
//  1. Apply queued [Reactor.Register], [Reactor.Modify] and
//     [Reactor.Unregister] calls, in the order they were made.
//  2. Ask every Selectable whether it wants to read or write, and for its
//     next deadline.
//  3. Block in poll(2) or epoll(7) until a descriptor is ready, the earliest
//     deadline passes, or another goroutine interrupts the wait.
//  4. Dispatch writable, then readable, readiness.
//  5. Call OnTimeout for every expired deadline, once per deadline.
//
// Interruption uses an eventfd on Linux, and a self-pipe elsewhere, drained
// by a [Sink]. Wakeups are coalesced.
//
// # Thread Safety
//
// Selectable methods are only ever called on the loop goroutine, so handler
// state needs no locking. Registration methods are safe to call from any
// goroutine, including from within callbacks. A Selectable that unregisters
// itself from within its own callback receives no further callbacks.
//
// Errors returned by, and panics raised from, callbacks are isolated: they
// are logged (rate limited, per descriptor and operation), and the loop
// proceeds.
//
// # Process-wide Instance
//
// [Default] returns a shared, lazily started, Reactor, stopped on SIGINT or
// SIGTERM, or by [Shutdown]. Prefer an explicit [Lifecycle] where the
// Reactor can be injected.
//
// # Usage
//
//	r, err := reactor.New(reactor.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := r.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Stop(context.Background())
//
//	acceptor, err := reactor.ListenerAcceptor(ln, func(fd int, addr unix.Sockaddr) error {
//	    return r.Register(newConn(r, fd))
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer acceptor.Close()
//	if err := r.Register(acceptor); err != nil {
//	    log.Fatal(err)
//	}
package reactor
