package service

import (
	"bytes"
	"context"
	"encoding/json"

	"go.uber.org/zap"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
	"github.com/corestructure/remote-ocr/internal/events"
)

// emitJobStatus publishes a lifecycle transition. Event delivery is best
// effort and never fails the operation that triggered it.
func (s *JobService) emitJobStatus(ctx context.Context, job *api.Job, prevStatus string) {
	data, err := json.Marshal(events.JobStatusEvent{
		JobID:      job.ID,
		ClientID:   job.ClientID,
		TaskName:   job.TaskName,
		Status:     job.Status,
		PrevStatus: prevStatus,
	})
	if err != nil {
		return
	}

	if err := s.eventWriter.Write(ctx, events.JobStatusMessageKind, bytes.NewBuffer(data)); err != nil {
		zap.S().Named("service").Errorw("failed to write event", "error", err, "event_kind", events.JobStatusMessageKind)
	}
}
