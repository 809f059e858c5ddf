package deficit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DocumentSink produces one copy of a settlement document (a printer queue,
// a bucket). rec already carries the receipt number and manager name the
// document must show. A non-empty returned number replaces the engine's.
type DocumentSink interface {
	Produce(ctx context.Context, rec Record, copyNum int) (receiptNumber string, err error)
}

// SinkFunc adapts a function to DocumentSink.
type SinkFunc func(ctx context.Context, rec Record, copyNum int) (string, error)

func (f SinkFunc) Produce(ctx context.Context, rec Record, copyNum int) (string, error) {
	return f(ctx, rec, copyNum)
}

var errNoSink = errors.New("no document sink configured")

// NewReceiptNumber returns RCPT-YYYYMMDD-XXXXXXXX for a document printed at t.
func NewReceiptNumber(t time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("RCPT-%s-%s", t.Format("20060102"), suffix)
}
