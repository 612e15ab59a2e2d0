// Package subscription implements the subscription table of spec §4.H: a
// variable-length per-module record table resident in the shared segment,
// with relocate-to-tail growth and swap-with-last-slot removal, paired
// with a process-local registry of the actual callback closures (which, like
// internal/modindex's locks, cannot themselves live in mmap'd bytes).
package subscription

import (
	"context"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sr-shim/shimrepo/internal/modindex"
	"github.com/sr-shim/shimrepo/internal/shm"
	shimerrors "github.com/sr-shim/shimrepo/pkg/errors"
	"github.com/sr-shim/shimrepo/pkg/metrics"
	"go.uber.org/zap"
)

// newSubscriptionID derives a process-unique uint64 from a fresh UUID. The
// segment's slot format fixes the ID field at 8 bytes (spec §4.H's record
// layout), so a full 128-bit UUID would not fit; the registry that maps
// this ID back to a callback closure is process-local anyway (closures
// cannot live in mmap'd bytes), so collision risk is bounded by a single
// process's subscription count, not the whole cluster's.
func newSubscriptionID() uint64 {
	u := uuid.New()
	return binary.LittleEndian.Uint64(u[:8])
}

// Table owns every module's subscription records plus the process-local
// callback registry keyed by subscription ID.
type Table struct {
	seg *shm.Segment
	log *zap.SugaredLogger

	mu       sync.RWMutex
	registry map[uint64]*Subscriber
}

// New constructs a Table over an attached segment.
func New(seg *shm.Segment, log *zap.SugaredLogger) *Table {
	return &Table{seg: seg, log: log, registry: make(map[uint64]*Subscriber)}
}

// Subscribe registers a new subscriber for m, writing its (priority,
// options, xpath) metadata into the segment's per-module table and
// recording the callback closure in the process-local registry.
//
// The xpath string is allocated at the segment's tail before the table is
// examined, so an existing table no longer ends at the tail by then: every
// Subscribe after a module's first copies the whole table, plus the new
// slot, to a fresh tail allocation. The in-place append branch below is
// taken only when the table still ends at the tail at that point.
func (t *Table) Subscribe(ctx context.Context, m *modindex.ModuleRecord, priority int32, xpath string, opts Options, cb Callback, private any) (uint64, error) {
	id := newSubscriptionID()

	t.mu.Lock()
	defer t.mu.Unlock()

	xpathOff, err := t.seg.PutString(ctx, xpath)
	if err != nil {
		return 0, err
	}
	slot := encodeSlot(id, priority, uint32(opts), xpathOff)

	head := m.SubscriptionHead()
	if head == 0 {
		tableOff, err := t.seg.Alloc(ctx, tableHeaderSize+slotSize)
		if err != nil {
			return 0, err
		}
		if err := t.seg.PutBytes(tableOff, encodeTableHeader(1, 1)); err != nil {
			return 0, err
		}
		if err := t.seg.PutBytes(tableOff+tableHeaderSize, slot); err != nil {
			return 0, err
		}
		m.SetSubscriptionHead(tableOff)
	} else {
		hdrBytes, err := t.seg.OffsetToPtr(head, tableHeaderSize)
		if err != nil {
			return 0, err
		}
		count, cap := decodeTableHeader(hdrBytes)
		tableEnd := head + tableHeaderSize + uint64(cap)*slotSize

		if tableEnd == t.seg.Tail() {
			gotOff, err := t.seg.Alloc(ctx, slotSize)
			if err != nil {
				return 0, err
			}
			if err := t.seg.PutBytes(gotOff, slot); err != nil {
				return 0, err
			}
			if err := t.seg.PutBytes(head, encodeTableHeader(count+1, cap+1)); err != nil {
				return 0, err
			}
		} else {
			slots, err := t.readRawSlots(head, count)
			if err != nil {
				return 0, err
			}
			newOff, err := t.seg.Alloc(ctx, tableHeaderSize+int(count+1)*slotSize)
			if err != nil {
				return 0, err
			}
			if err := t.seg.PutBytes(newOff, encodeTableHeader(count+1, count+1)); err != nil {
				return 0, err
			}
			for i, s := range slots {
				if err := t.seg.PutBytes(newOff+tableHeaderSize+uint64(i)*slotSize, encodeSlot(s.ID, s.Priority, uint32(s.Options), s.xpathOff)); err != nil {
					return 0, err
				}
			}
			if err := t.seg.PutBytes(newOff+tableHeaderSize+uint64(count)*slotSize, slot); err != nil {
				return 0, err
			}
			m.SetSubscriptionHead(newOff)
		}
	}

	t.registry[id] = &Subscriber{ID: id, Priority: priority, Options: opts, XPath: xpath, Private: private, Callback: cb}
	metrics.SubscriptionsTotal.WithLabelValues(m.Name).Inc()
	if t.log != nil {
		t.log.Infow("subscription added", "module", m.Name, "id", id, "xpath", xpath, "priority", priority)
	}
	return id, nil
}

// Remove unregisters a subscriber: its segment slot is overwritten by the
// table's last slot and the count decremented (spec §4.H "replaces the
// slot with the last slot and decrements the count"). Segment shrink on an
// empty tail table is not implemented; internal/shm's allocator is
// grow-only, so a removed slot's bytes are simply excluded from future
// iteration rather than physically reclaimed (documented in DESIGN.md).
func (t *Table) Remove(ctx context.Context, m *modindex.ModuleRecord, id uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	head := m.SubscriptionHead()
	if head == 0 {
		return shimerrors.NewLockError(nil, shimerrors.ErrorCodeNotFound, "subscription not found").WithModule(m.Name)
	}
	hdrBytes, err := t.seg.OffsetToPtr(head, tableHeaderSize)
	if err != nil {
		return err
	}
	count, cap := decodeTableHeader(hdrBytes)

	slots, err := t.readRawSlots(head, count)
	if err != nil {
		return err
	}

	idx := -1
	for i, s := range slots {
		if s.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return shimerrors.NewLockError(nil, shimerrors.ErrorCodeNotFound, "subscription not found").WithModule(m.Name)
	}

	last := count - 1
	if uint32(idx) != last {
		lastSlot := slots[last]
		off := head + tableHeaderSize + uint64(idx)*slotSize
		if err := t.seg.PutBytes(off, encodeSlot(lastSlot.ID, lastSlot.Priority, uint32(lastSlot.Options), lastSlot.xpathOff)); err != nil {
			return err
		}
	}
	if err := t.seg.PutBytes(head, encodeTableHeader(count-1, cap)); err != nil {
		return err
	}

	delete(t.registry, id)
	metrics.SubscriptionsTotal.WithLabelValues(m.Name).Dec()
	if t.log != nil {
		t.log.Infow("subscription removed", "module", m.Name, "id", id)
	}
	return nil
}

// Ordered returns m's live subscribers ordered by descending priority
// (higher first, spec §4.G "Subscription delivery respects priority
// (higher first)").
func (t *Table) Ordered(m *modindex.ModuleRecord) ([]*Subscriber, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	head := m.SubscriptionHead()
	if head == 0 {
		return nil, nil
	}
	hdrBytes, err := t.seg.OffsetToPtr(head, tableHeaderSize)
	if err != nil {
		return nil, err
	}
	count, _ := decodeTableHeader(hdrBytes)

	raw, err := t.readRawSlots(head, count)
	if err != nil {
		return nil, err
	}
	out := make([]*Subscriber, 0, len(raw))
	for _, s := range raw {
		if sub, ok := t.registry[s.ID]; ok {
			out = append(out, sub)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

type rawSlot struct {
	ID       uint64
	Priority int32
	Options  Options
	xpathOff uint64
}

func (t *Table) readRawSlots(head uint64, count uint32) ([]rawSlot, error) {
	out := make([]rawSlot, 0, count)
	for i := uint32(0); i < count; i++ {
		b, err := t.seg.OffsetToPtr(head+tableHeaderSize+uint64(i)*slotSize, slotSize)
		if err != nil {
			return nil, err
		}
		id, priority, opts, xpathOff := decodeSlot(b)
		out = append(out, rawSlot{ID: id, Priority: priority, Options: Options(opts), xpathOff: xpathOff})
	}
	return out, nil
}
