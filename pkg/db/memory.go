package db

import (
	"context"
	"sort"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/nearx-labs/nearx/pkg/db/models/ledger"
)

var (
	_ LedgerWriter = (*MemoryLedger)(nil)
	_ LedgerReader = (*MemoryLedger)(nil)
)

// MemoryLedger is an in-process LedgerWriter keyed like the real tables.
type MemoryLedger struct {
	rows *xsync.Map[string, ledger.BalanceEvent]
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{rows: xsync.NewMap[string, ledger.BalanceEvent]()}
}

func (m *MemoryLedger) InitLedger(context.Context) error { return nil }

func (m *MemoryLedger) InsertBalanceEvents(_ context.Context, events []*ledger.BalanceEvent) error {
	for _, ev := range events {
		m.rows.LoadOrStore(naturalKey(ev), *ev)
	}
	return nil
}

func (m *MemoryLedger) Close() error { return nil }

// Len returns the number of stored rows.
func (m *MemoryLedger) Len() int {
	return m.rows.Size()
}

// Events returns the stored rows ordered by event index.
func (m *MemoryLedger) Events() []ledger.BalanceEvent {
	out := make([]ledger.BalanceEvent, 0, m.rows.Size())
	m.rows.Range(func(_ string, ev ledger.BalanceEvent) bool {
		out = append(out, ev)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].EventIndex.LessThan(out[j].EventIndex) })
	return out
}

// EventsByHeight returns the stored rows of one block ordered by event index.
func (m *MemoryLedger) EventsByHeight(_ context.Context, height uint64) ([]*ledger.BalanceEvent, error) {
	var out []*ledger.BalanceEvent
	for _, ev := range m.Events() {
		if ev.BlockHeight == height {
			out = append(out, &ev)
		}
	}
	return out, nil
}

func naturalKey(ev *ledger.BalanceEvent) string {
	return ev.EventIndex.String() + "/" + ev.BlockTimestamp.String()
}
