// Package brain is the controller side of the panel bus: it owns the
// panel table, arbitrates short ids and bridges panels to the host link.
package brain

import (
	"errors"
	"fmt"
	"sync"

	"panelbus/core"
)

// TableSize is the number of rows. Row 0 is reserved so that short id 0
// never addresses a panel.
const TableSize = core.MaxShortID + 1

var (
	ErrTableFull      = errors.New("brain: panel table full")
	ErrInvalidShortID = errors.New("brain: short id out of range")
	ErrDuplicateUID   = errors.New("brain: uid registered under another short id")
)

// PanelInfo is the host-visible summary of a row
type PanelInfo struct {
	ID   uint8
	Type uint32
}

type tableRow struct {
	used bool
	core.PanelIdentity
}

// PanelTable maps short ids to panel identities. Rows are only written by
// Register and never evicted.
type PanelTable struct {
	mu   sync.RWMutex
	rows [TableSize]tableRow
}

// NewPanelTable creates an empty table
func NewPanelTable() *PanelTable {
	return &PanelTable{}
}

// Allocate resolves the short id a UID should receive: the row already
// holding that UID, else the lowest free row. It does not modify the
// table.
func (t *PanelTable) Allocate(uid core.UID) (uint8, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	free := uint8(0)
	for id := uint8(core.MinShortID); id <= core.MaxShortID; id++ {
		row := &t.rows[id]
		if row.used && row.UID == uid {
			return id, nil
		}
		if !row.used && free == 0 {
			free = id
		}
	}
	if free == 0 {
		return 0, ErrTableFull
	}
	return free, nil
}

// Register writes (or overwrites) the row for p.ShortID
func (t *PanelTable) Register(p core.PanelIdentity) error {
	if !core.ValidShortID(p.ShortID) {
		return fmt.Errorf("%w: %d", ErrInvalidShortID, p.ShortID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for id := uint8(core.MinShortID); id <= core.MaxShortID; id++ {
		row := &t.rows[id]
		if row.used && id != p.ShortID && row.UID == p.UID {
			return fmt.Errorf("%w: %s held by %d", ErrDuplicateUID, p.UID, id)
		}
	}
	t.rows[p.ShortID] = tableRow{used: true, PanelIdentity: p}
	return nil
}

// Lookup returns the row for a short id
func (t *PanelTable) Lookup(id uint8) (core.PanelIdentity, bool) {
	if !core.ValidShortID(id) {
		return core.PanelIdentity{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	row := t.rows[id]
	return row.PanelIdentity, row.used
}

// LookupUID returns the row holding a UID
func (t *PanelTable) LookupUID(uid core.UID) (core.PanelIdentity, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id := core.MinShortID; id <= core.MaxShortID; id++ {
		if row := t.rows[id]; row.used && row.UID == uid {
			return row.PanelIdentity, true
		}
	}
	return core.PanelIdentity{}, false
}

// Touch refreshes the last-seen time of a registered panel. It reports
// whether the row exists.
func (t *PanelTable) Touch(id uint8, now uint32) bool {
	if !core.ValidShortID(id) {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	row := &t.rows[id]
	if !row.used {
		return false
	}
	row.LastSeen = now
	return true
}

// Count returns the number of registered panels
func (t *PanelTable) Count() uint8 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var n uint8
	for id := core.MinShortID; id <= core.MaxShortID; id++ {
		if t.rows[id].used {
			n++
		}
	}
	return n
}

// Info lists registered panels in short id order
func (t *PanelTable) Info() []PanelInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []PanelInfo
	for id := core.MinShortID; id <= core.MaxShortID; id++ {
		if row := t.rows[id]; row.used {
			out = append(out, PanelInfo{ID: uint8(id), Type: row.Type})
		}
	}
	return out
}

// Panels returns a copy of every registered identity in short id order
func (t *PanelTable) Panels() []core.PanelIdentity {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []core.PanelIdentity
	for id := core.MinShortID; id <= core.MaxShortID; id++ {
		if row := t.rows[id]; row.used {
			out = append(out, row.PanelIdentity)
		}
	}
	return out
}
