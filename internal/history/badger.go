package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

const keyPrefix = "chat:"

// Badger stores records under "chat:{unixnano padded}:{uuid}" so a prefix
// scan returns them in chronological order; the uuid keeps two records
// from the same nanosecond apart.
type Badger struct {
	db  *badger.DB
	log *slog.Logger
}

func NewBadger(db *badger.DB, log *slog.Logger) *Badger {
	if log == nil {
		log = slog.Default()
	}
	return &Badger{db: db, log: log}
}

func recordKey(r Record) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s", keyPrefix, r.At.UnixNano(), r.ID))
}

func (b *Badger) Append(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := toEntry(record)
	e.ID = record.ID.String()
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(record), value)
	})
}

// Records walks the keys backwards from the newest one and stops once
// limit records are collected.
func (b *Badger) Records(ctx context.Context, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var records []Record
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte(keyPrefix)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(append(prefix, 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(records) == limit {
				break
			}
			var e entry
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &e)
			})
			if err != nil {
				return err
			}
			r, err := fromEntry(e)
			if err != nil {
				return err
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lo.Reverse(records), nil
}
