package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/checkout/internal/clock"
	"github.com/smallbiznis/checkout/internal/events"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Record is a row of outbox_events.
type Record struct {
	ID          string         `gorm:"primaryKey;type:varchar(26)"`
	EventType   string         `gorm:"type:varchar(64);not null"`
	Payload     datatypes.JSON `gorm:"not null"`
	Attempts    int            `gorm:"not null;default:0"`
	LastError   *string
	CreatedAt   time.Time `gorm:"not null"`
	PublishedAt *time.Time
}

func (Record) TableName() string { return "outbox_events" }

// Publisher records events for later delivery. With a non-nil tx the rows
// commit or roll back together with the caller's writes.
type Publisher interface {
	Publish(ctx context.Context, tx *gorm.DB, evts ...events.Event) error
}

type Writer struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewWriter(db *gorm.DB, clk clock.Clock) *Writer {
	return &Writer{db: db, clock: clk}
}

func (w *Writer) Publish(ctx context.Context, tx *gorm.DB, evts ...events.Event) error {
	if len(evts) == 0 {
		return nil
	}
	if tx == nil {
		tx = w.db
	}

	now := w.clock.Now().UTC()
	for _, evt := range evts {
		typ, payload, err := events.Encode(evt)
		if err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO outbox_events (id, event_type, payload, attempts, created_at)
			 VALUES (?, ?, ?, 0, ?)`,
			ulid.Make().String(),
			string(typ),
			datatypes.JSON(payload),
			now,
		).Error; err != nil {
			return fmt.Errorf("outbox insert %s: %w", typ, err)
		}
	}
	return nil
}
