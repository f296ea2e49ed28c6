// internal/store/audit_index.go
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"loan-engine/internal/common/logger"
	"loan-engine/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
)

// AuditRecorder is the append-only audit sink this package decorates.
type AuditRecorder interface {
	Record(ctx context.Context, event *models.AuditEvent) error
}

// AuditIndexer mirrors audit events into elasticsearch for search and
// timeline queries. Indexing is best effort: the postgres trail is the
// source of truth and an indexing failure never fails a run.
type AuditIndexer struct {
	client *elasticsearch.Client
	index  string
	next   AuditRecorder
	logger logger.Logger
}

// NewAuditIndexer wraps an audit sink, forwarding every event and
// additionally indexing it.
func NewAuditIndexer(client *elasticsearch.Client, index string, next AuditRecorder, log logger.Logger) *AuditIndexer {
	return &AuditIndexer{
		client: client,
		index:  index,
		next:   next,
		logger: log.WithFields(map[string]interface{}{"component": "audit-index"}),
	}
}

func (a *AuditIndexer) Record(ctx context.Context, event *models.AuditEvent) error {
	err := a.next.Record(ctx, event)

	if a.client != nil {
		if indexErr := a.indexEvent(ctx, event); indexErr != nil {
			a.logger.Warn("audit event indexing failed", map[string]interface{}{
				"eventType": event.EventType,
				"error":     indexErr.Error(),
			})
		}
	}
	return err
}

func (a *AuditIndexer) indexEvent(ctx context.Context, event *models.AuditEvent) error {
	doc, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	res, err := a.client.Index(
		a.index,
		bytes.NewReader(doc),
		a.client.Index.WithContext(ctx),
		a.client.Index.WithDocumentID(event.ID),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	if res.IsError() {
		return fmt.Errorf("index returned status %s", res.Status())
	}
	return nil
}
