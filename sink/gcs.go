package sink

import (
	"context"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/warp/deficit-engine/deficit"
)

// GCS uploads documents to a Cloud Storage bucket under prefix.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
	log    logrus.FieldLogger
}

// NewGCSClient prefers application default credentials. GCS_CREDENTIALS_JSON
// supplies explicit service-account JSON instead.
func NewGCSClient(ctx context.Context) (*storage.Client, error) {
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

func NewGCS(client *storage.Client, bucket, prefix string, log logrus.FieldLogger) *GCS {
	return &GCS{client: client, bucket: bucket, prefix: prefix, log: log.WithField("module", "gcs")}
}

// ObjectName is where doc lands in the bucket.
func (g *GCS) ObjectName(doc Document) string {
	return g.prefix + doc.ShiftDate + "/" + doc.Name()
}

func (g *GCS) Produce(ctx context.Context, rec deficit.Record, copyNum int) (string, error) {
	doc, err := NewDocument(rec, copyNum)
	if err != nil {
		return "", err
	}
	data, err := doc.Encode()
	if err != nil {
		return "", err
	}

	objectName := g.ObjectName(doc)
	wc := g.client.Bucket(g.bucket).Object(objectName).NewWriter(ctx)
	wc.ContentType = "application/json"
	wc.Metadata = map[string]string{
		"receipt-number": doc.ReceiptNumber,
		"record-id":      string(rec.ID),
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return "", fmt.Errorf("failed to upload %s: %w", objectName, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", objectName, err)
	}

	g.log.WithFields(logrus.Fields{"record_id": rec.ID, "object": objectName}).Info("document uploaded")
	return doc.ReceiptNumber, nil
}

func (g *GCS) Close() error { return g.client.Close() }

var _ deficit.DocumentSink = (*GCS)(nil)
