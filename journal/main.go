// Package journal persists panel events, set signals, and block claims in a buntdb database.
//
// Keys:
//
//	event:<unix nanoseconds, zero-padded>:<uuid>  JSON-encoded Event
//	set:<module>::<id>                            JSON-encoded Head
//	block:<name>:claimed                          "true"
package journal

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/buntdb"
	"go.uber.org/zap"
	. "nyiyui.ca/hato/shingou"
	"nyiyui.ca/hato/shingou/notify"
	"nyiyui.ca/hato/shingou/panel"
)

type Journal struct {
	db *buntdb.DB
}

// Open opens the database at path. Use ":memory:" for a journal that isn't persisted.
func Open(path string) (*Journal, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func eventKey(e Event) string {
	return fmt.Sprintf("event:%020d:%s", e.Time.UnixNano(), uuid.New())
}

func setKey(h Head) string {
	return fmt.Sprintf("set:%s::%s", h.Module, h.ID)
}

func claimKey(block string) string {
	return fmt.Sprintf("block:%s:claimed", block)
}

// Head identifies a signal head.
type Head struct {
	Module string `json:"module"`
	ID     string `json:"id"`
}

// State is what a panel restores after a restart.
type State struct {
	// Sets are the heads set through a signal set.
	Sets []Head
	// Claims are the blocks claimed without a signal set.
	Claims []string
}

// StateOf returns the restorable state of p.
func StateOf(p *panel.Panel) State {
	s := State{Sets: []Head{}, Claims: []string{}}
	snapshot := p.Snapshot()
	for _, h := range snapshot.Heads {
		if h.Set {
			s.Sets = append(s.Sets, Head{Module: h.Module, ID: h.ID})
		}
	}
	for _, b := range snapshot.Blocks {
		if b.Claimed {
			s.Claims = append(s.Claims, b.Name)
		}
	}
	return s
}

// Record appends e.
func (j *Journal) Record(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", e, err)
	}
	return j.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(eventKey(e), string(data), nil)
		return err
	})
}

// Events returns all recorded events, oldest first.
func (j *Journal) Events() ([]Event, error) {
	events := []Event{}
	err := j.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("event:*", func(key, value string) bool {
			var e Event
			err := json.Unmarshal([]byte(value), &e)
			if err != nil {
				zap.S().Errorw("journal: unmarshalling failed",
					"key", key,
					"value", value)
				return true
			}
			events = append(events, e)
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func deleteKeys(tx *buntdb.Tx, pattern string) error {
	old := []string{}
	err := tx.AscendKeys(pattern, func(key, _ string) bool {
		old = append(old, key)
		return true
	})
	if err != nil {
		return err
	}
	for _, key := range old {
		if _, err := tx.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// SaveState replaces the saved state with s.
func (j *Journal) SaveState(s State) error {
	return j.db.Update(func(tx *buntdb.Tx) error {
		if err := deleteKeys(tx, "set:*"); err != nil {
			return err
		}
		if err := deleteKeys(tx, "block:*"); err != nil {
			return err
		}
		for _, h := range s.Sets {
			data, err := json.Marshal(h)
			if err != nil {
				return fmt.Errorf("marshal %v: %w", h, err)
			}
			if _, _, err := tx.Set(setKey(h), string(data), nil); err != nil {
				return err
			}
		}
		for _, b := range s.Claims {
			if _, _, err := tx.Set(claimKey(b), "true", nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// State returns the saved state. Sets are sorted by module and ID, claims by name.
func (j *Journal) State() (State, error) {
	s := State{Sets: []Head{}, Claims: []string{}}
	err := j.db.View(func(tx *buntdb.Tx) error {
		err := tx.AscendKeys("set:*", func(key, value string) bool {
			var h Head
			if err := json.Unmarshal([]byte(value), &h); err != nil {
				zap.S().Errorw("journal: unmarshalling failed",
					"key", key,
					"value", value)
				return true
			}
			s.Sets = append(s.Sets, h)
			return true
		})
		if err != nil {
			return err
		}
		return tx.AscendKeys("block:*:claimed", func(key, _ string) bool {
			s.Claims = append(s.Claims, strings.TrimSuffix(strings.TrimPrefix(key, "block:"), ":claimed"))
			return true
		})
	})
	if err != nil {
		return State{}, err
	}
	return s, nil
}

// Attach records every event of p, and saves p's state whenever a signal is set or unset or a block is claimed or released.
// It must be called on the goroutine that owns p.
func (j *Journal) Attach(p *panel.Panel) notify.Handle {
	return p.OnEvent(func(e Event) {
		if err := j.Record(e); err != nil {
			zap.S().Errorw("journal: record failed",
				"event", e,
				"err", err)
		}
		if e.Kind != EventSet && e.Kind != EventBlock {
			return
		}
		s := StateOf(p)
		if err := j.SaveState(s); err != nil {
			zap.S().Errorw("journal: save state failed",
				"state", s,
				"err", err)
		}
	})
}

// Restore sets every head that was set before a restart, then claims every block that was claimed without a signal set.
// Heads are set through their signal sets, so unsetting them releases their blocks as usual.
// Unknown heads and blocks, and heads that can no longer be set, are skipped.
func (j *Journal) Restore(p *panel.Panel) error {
	s, err := j.State()
	if err != nil {
		return err
	}
	for _, h := range s.Sets {
		ok, err := p.TrySetSignal(h.Module, h.ID)
		if err != nil || !ok {
			zap.S().Warnw("journal: skipped set",
				"module", h.Module,
				"head", h.ID,
				"err", err)
			continue
		}
		zap.S().Infow("journal: restored set",
			"module", h.Module,
			"head", h.ID)
	}
	for _, name := range s.Claims {
		if err := p.ClaimBlock(name); err != nil {
			zap.S().Warnw("journal: skipped claim", "err", err)
			continue
		}
		zap.S().Infow("journal: restored claim", "block", name)
	}
	return nil
}
