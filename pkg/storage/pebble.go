package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/EmoBanana/veiled/pkg/order"
)

// Key schema:
//
//   cur                  → Cursor (JSON)
//   meta:processed_count → uint64 big-endian
//   ord:<orderId>        → StaticOrder (JSON)
//   skip:<orderId>       → uint64 big-endian decrypt-failure count
const (
	keyCursor         = "cur"
	keyProcessedCount = "meta:processed_count"
	prefixOrder       = "ord:"
	prefixSkip        = "skip:"
)

// PebbleStore keeps the agent state in a pebble KV, one key per pending
// order. Selected with STATE_STORE=pebble.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) Load() (*order.AgentState, error) {
	state := order.NewAgentState()

	if val, closer, err := s.db.Get([]byte(keyCursor)); err == nil {
		var cur order.Cursor
		uerr := json.Unmarshal(val, &cur)
		closer.Close()
		if uerr != nil {
			return nil, fmt.Errorf("parse cursor: %w", uerr)
		}
		state.Cursor = &cur
	} else if err != pebble.ErrNotFound {
		return nil, fmt.Errorf("get cursor: %w", err)
	}

	if val, closer, err := s.db.Get([]byte(keyProcessedCount)); err == nil {
		if len(val) == 8 {
			state.ProcessedCount = int(binary.BigEndian.Uint64(val))
		}
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return nil, fmt.Errorf("get processed count: %w", err)
	}

	if err := s.scanPrefix(prefixOrder, func(key string, val []byte) error {
		var o order.StaticOrder
		if err := json.Unmarshal(val, &o); err != nil {
			return fmt.Errorf("parse order %s: %w", key, err)
		}
		state.PendingOrders = append(state.PendingOrders, o)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scanPrefix(prefixSkip, func(key string, val []byte) error {
		if len(val) == 8 {
			state.SkippedBlobs[key] = int(binary.BigEndian.Uint64(val))
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return state, nil
}

// Save rewrites the whole logical state in one synced batch. Pending-order
// and skip keys from earlier saves are range-deleted first so the KV never
// resurrects an order that left the pending set.
func (s *PebbleStore) Save(state *order.AgentState) error {
	b := s.db.NewBatch()
	defer b.Close()

	if err := b.DeleteRange([]byte(prefixOrder), keyUpperBound([]byte(prefixOrder)), nil); err != nil {
		return fmt.Errorf("clear orders: %w", err)
	}
	if err := b.DeleteRange([]byte(prefixSkip), keyUpperBound([]byte(prefixSkip)), nil); err != nil {
		return fmt.Errorf("clear skip list: %w", err)
	}

	if state.Cursor != nil {
		val, err := json.Marshal(state.Cursor)
		if err != nil {
			return fmt.Errorf("marshal cursor: %w", err)
		}
		if err := b.Set([]byte(keyCursor), val, nil); err != nil {
			return err
		}
	} else if err := b.Delete([]byte(keyCursor), nil); err != nil {
		return err
	}

	if err := b.Set([]byte(keyProcessedCount), beUint64(uint64(state.ProcessedCount)), nil); err != nil {
		return err
	}

	for i := range state.PendingOrders {
		o := &state.PendingOrders[i]
		val, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("marshal order %s: %w", o.OrderID, err)
		}
		if err := b.Set([]byte(prefixOrder+o.OrderID), val, nil); err != nil {
			return err
		}
	}

	for id, count := range state.SkippedBlobs {
		if err := b.Set([]byte(prefixSkip+id), beUint64(uint64(count)), nil); err != nil {
			return err
		}
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit state batch: %w", err)
	}
	return nil
}

func (s *PebbleStore) scanPrefix(prefix string, fn func(key string, val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: keyUpperBound([]byte(prefix)),
	})
	if err != nil {
		return fmt.Errorf("iter %s: %w", prefix, err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())[len(prefix):]
		if err := fn(key, iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func beUint64(v uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], v)
	return k[:]
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

var _ StateStore = (*PebbleStore)(nil)
