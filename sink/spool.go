package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/warp/deficit-engine/deficit"
)

// Spool writes documents into a directory the print daemon watches. Files
// appear atomically: they are written under a dot-prefixed name and renamed.
type Spool struct {
	dir string
	log logrus.FieldLogger
}

// NewSpool creates dir if needed.
func NewSpool(dir string, log logrus.FieldLogger) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory %s: %w", dir, err)
	}
	return &Spool{dir: dir, log: log.WithField("module", "spool")}, nil
}

func (s *Spool) Produce(ctx context.Context, rec deficit.Record, copyNum int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	doc, err := NewDocument(rec, copyNum)
	if err != nil {
		return "", err
	}
	data, err := doc.Encode()
	if err != nil {
		return "", err
	}

	final := filepath.Join(s.dir, doc.Name())
	tmp := filepath.Join(s.dir, "."+doc.Name()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to spool %s: %w", doc.Name(), err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to spool %s: %w", doc.Name(), err)
	}

	s.log.WithFields(logrus.Fields{"record_id": rec.ID, "file": final}).Info("document spooled")
	return doc.ReceiptNumber, nil
}

var _ deficit.DocumentSink = (*Spool)(nil)
