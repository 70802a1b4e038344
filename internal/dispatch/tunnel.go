package dispatch

import (
	"io"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/plexsphere/bondd/internal/link"
)

// tunnel forwards queued packets over one link's transport and delivers
// packets received from it back to the device.
type tunnel struct {
	id       string
	instance uuid.UUID
	conn     io.ReadWriteCloser
	queue    chan []byte
	stopCh   chan struct{}
	stopOnce sync.Once
	mtu      int

	txPackets atomic.Uint64
	txBytes   atomic.Uint64
	rxPackets atomic.Uint64
	dropped   atomic.Uint64
}

func newTunnel(l link.Link, conn io.ReadWriteCloser, queueSize, mtu int) *tunnel {
	return &tunnel{
		id:       l.ID,
		instance: uuid.New(),
		conn:     conn,
		queue:    make(chan []byte, queueSize),
		stopCh:   make(chan struct{}),
		mtu:      mtu,
	}
}

// enqueue offers pkt without blocking. A full queue drops pkt.
func (t *tunnel) enqueue(pkt []byte) bool {
	select {
	case <-t.stopCh:
		t.dropped.Add(1)
		return false
	default:
	}
	select {
	case t.queue <- pkt:
		return true
	default:
		t.dropped.Add(1)
		return false
	}
}

// writeLoop drains the queue into the transport until stopped or a write fails.
func (t *tunnel) writeLoop(fail func(*tunnel, error)) {
	for {
		select {
		case <-t.stopCh:
			return
		case pkt := <-t.queue:
			if _, err := t.conn.Write(pkt); err != nil {
				fail(t, err)
				return
			}
			t.txPackets.Add(1)
			t.txBytes.Add(uint64(len(pkt)))
		}
	}
}

// readLoop copies inbound packets to deliver until the transport fails.
func (t *tunnel) readLoop(deliver func([]byte), fail func(*tunnel, error)) {
	buf := make([]byte, t.mtu+64)
	for {
		n, err := t.conn.Read(buf)
		if err != nil {
			if !t.stopped() {
				fail(t, err)
			}
			return
		}
		t.rxPackets.Add(1)
		deliver(buf[:n])
	}
}

// stop signals both loops and closes the transport. Safe to call repeatedly.
func (t *tunnel) stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		t.conn.Close()
	})
}

func (t *tunnel) stopped() bool {
	select {
	case <-t.stopCh:
		return true
	default:
		return false
	}
}

// TunnelStats is a snapshot of one tunnel's counters.
type TunnelStats struct {
	LinkID     string
	InstanceID string
	Allocation float64
	TxPackets  uint64
	TxBytes    uint64
	RxPackets  uint64
	Dropped    uint64
	QueueDepth int
}

func (t *tunnel) stats(allocation float64) TunnelStats {
	return TunnelStats{
		LinkID:     t.id,
		InstanceID: t.instance.String(),
		Allocation: allocation,
		TxPackets:  t.txPackets.Load(),
		TxBytes:    t.txBytes.Load(),
		RxPackets:  t.rxPackets.Load(),
		Dropped:    t.dropped.Load(),
		QueueDepth: len(t.queue),
	}
}

func sortStats(stats []TunnelStats) {
	slices.SortFunc(stats, func(a, b TunnelStats) int { return strings.Compare(a.LinkID, b.LinkID) })
}
