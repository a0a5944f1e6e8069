package world

import "sync"

// Lanes are the two outbound queues of one client connection.
//
// Reliable carries WELCOME, acks, block deltas and errors. It never drops: a
// client that lets it fill up is disconnected. State carries runtime
// snapshots where only the newest matters, so older entries are replaced.
type Lanes struct {
	Reliable chan []byte
	State    chan []byte

	once sync.Once
	done chan struct{}
}

func NewLanes(reliable, state int) *Lanes {
	if reliable <= 0 {
		reliable = 1
	}
	if state <= 0 {
		state = 1
	}
	return &Lanes{
		Reliable: make(chan []byte, reliable),
		State:    make(chan []byte, state),
		done:     make(chan struct{}),
	}
}

// Done is closed when the world gives up on the client.
func (l *Lanes) Done() <-chan struct{} { return l.done }

func (l *Lanes) kick() {
	l.once.Do(func() { close(l.done) })
}

func (l *Lanes) sendReliable(b []byte) bool {
	select {
	case l.Reliable <- b:
		return true
	default:
		l.kick()
		return false
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
