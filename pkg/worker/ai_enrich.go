package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shopfloor/pkg/logger"
	"shopfloor/pkg/models"
	"shopfloor/pkg/storage"
)

// AIEnrichHandler validates and acknowledges work-order enrichment jobs.
// The enrichment pipeline itself is not built yet; the handler exists so
// the queue semantics (validation, retries, dead-letter) are exercised
// end to end for this type.
type AIEnrichHandler struct {
	audits storage.AuditStore
}

func NewAIEnrichHandler(audits storage.AuditStore) *AIEnrichHandler {
	return &AIEnrichHandler{audits: audits}
}

// Handle processes one ai_enrich job.
func (h *AIEnrichHandler) Handle(ctx context.Context, job *models.Job) error {
	raw, ok := job.Payload["work_order_id"].(string)
	if !ok || raw == "" {
		return errors.New("work_order_id is required in payload")
	}

	log := logger.Get().With(
		zap.String("job_id", job.ID.String()),
		zap.String("work_order_id", raw))
	log.Info("ai enrich started")

	if h.audits != nil {
		entry := &models.AuditLog{
			OrgID:      job.OrgID,
			EntityType: "work_order",
			Action:     "ai_enrich_requested",
			Diff:       models.Diff{"job_id": job.ID.String()},
		}
		if id, err := uuid.Parse(raw); err == nil {
			entry.EntityID = id
		} else {
			return fmt.Errorf("invalid work_order_id: %w", err)
		}
		if err := h.audits.AppendAudit(ctx, entry); err != nil {
			logger.Warn("failed to append audit entry", zap.Error(err))
		}
	}

	log.Info("ai enrich completed")
	return nil
}
