package coprocessor

import (
	"fmt"
	"sort"

	dbm "github.com/cosmos/cosmos-db"
)

type kvReader interface {
	Get(key []byte) ([]byte, error)
}

// overlay buffers writes on top of a parent reader. Reads fall through to the parent for
// keys the overlay has not written.
type overlay struct {
	parent kvReader
	writes map[string][]byte
}

func newOverlay(parent kvReader) *overlay {
	return &overlay{parent: parent, writes: map[string][]byte{}}
}

func (o *overlay) Get(key []byte) ([]byte, error) {
	if v, ok := o.writes[string(key)]; ok {
		return append([]byte(nil), v...), nil
	}
	return o.parent.Get(key)
}

func (o *overlay) Set(key, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("overlay: empty key")
	}
	if value == nil {
		return fmt.Errorf("overlay: nil value")
	}
	o.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

func (o *overlay) mergeInto(dst *overlay) {
	for k, v := range o.writes {
		dst.writes[k] = v
	}
}

func (o *overlay) len() int {
	return len(o.writes)
}

// flush writes every buffered key into db as one synced batch.
func (o *overlay) flush(db dbm.DB) error {
	if len(o.writes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(o.writes))
	for k := range o.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	batch := db.NewBatch()
	defer func() { _ = batch.Close() }()
	for _, k := range keys {
		if err := batch.Set([]byte(k), o.writes[k]); err != nil {
			return fmt.Errorf("batch set: %w", err)
		}
	}
	if err := batch.WriteSync(); err != nil {
		return fmt.Errorf("batch write: %w", err)
	}
	return nil
}
