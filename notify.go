package oss

import (
	"sync"

	"github.com/rs/zerolog"
)

// PollHandle is a pending poll registration of a client. The device keeps at most one per
// stream and consumes it on the next readiness change.
type PollHandle interface {
	// Notify wakes up the poller.
	Notify() error
	// Destroy releases the handle.
	Destroy()
}

// notifier forwards buffer space notifications from the transport to pending poll handles.
// Transport callbacks never block: events are coalesced per stream and delivered by a single
// dispatcher goroutine.
type notifier struct {
	events chan *Stream
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	log    zerolog.Logger
}

func newNotifier(size int, log zerolog.Logger) *notifier {
	n := &notifier{
		// At most one event per stream is queued.
		events: make(chan *Stream, size),
		done:   make(chan struct{}),
		log:    log,
	}

	n.wg.Add(1)
	go n.run()

	return n
}

func (n *notifier) run() {
	defer n.wg.Done()

	for {
		select {
		case s := <-n.events:
			s.pending.Store(false)

			if err := s.wake(); err != nil {
				n.log.Debug().Err(err).Int("slot", s.index).Msg("poll notify failed")
			}
		case <-n.done:
			return
		}
	}
}

// signal queues a wake-up for s. It is safe to call from any goroutine.
func (n *notifier) signal(s *Stream) {
	if !s.pending.CompareAndSwap(false, true) {
		return
	}

	select {
	case n.events <- s:
	case <-n.done:
	}
}

func (n *notifier) close() {
	n.once.Do(func() {
		close(n.done)
	})

	n.wg.Wait()
}
