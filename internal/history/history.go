//go:generate go run go.uber.org/mock/mockgen -source=history.go -destination=../mocks/mock_history.go -package=mocks
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the persisted timestamp format, in local time.
const TimestampLayout = "2006-01-02 15:04:05"

// Record is one delivered direct message.
type Record struct {
	ID      uuid.UUID
	From    string
	To      string
	Content string
	At      time.Time
}

func NewRecord(from, to, content string, at time.Time) Record {
	return Record{ID: uuid.New(), From: from, To: to, Content: content, At: at}
}

// Sink is the append-only chat log. Implementations serialize concurrent
// appends themselves.
type Sink interface {
	Append(ctx context.Context, record Record) error
}

// Store is a Sink that can also read back the most recent records,
// oldest first.
type Store interface {
	Sink
	Records(ctx context.Context, limit int) ([]Record, error)
}

type entry struct {
	ID        string `json:"id,omitempty"`
	From      string `json:"from"`
	To        string `json:"to"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

func toEntry(r Record) entry {
	return entry{
		From:      r.From,
		To:        r.To,
		Content:   r.Content,
		Timestamp: r.At.In(time.Local).Format(TimestampLayout),
	}
}

func fromEntry(e entry) (Record, error) {
	at, err := time.ParseInLocation(TimestampLayout, e.Timestamp, time.Local)
	if err != nil {
		return Record{}, fmt.Errorf("parse timestamp %q: %w", e.Timestamp, err)
	}
	r := Record{From: e.From, To: e.To, Content: e.Content, At: at}
	if e.ID != "" {
		if r.ID, err = uuid.Parse(e.ID); err != nil {
			return Record{}, err
		}
	}
	return r, nil
}
