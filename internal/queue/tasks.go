package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeConvertBatch = "fits:convert_batch"

type ConvertBatchPayload struct {
	JobID       string    `json:"job_id"`
	SourceType  string    `json:"source_type"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	ObjectKeys  []string  `json:"object_keys"`
	FileNames   []string  `json:"file_names,omitempty"`
	// Attempt counts starts of the job; each start is a distinct task.
	Attempt     int       `json:"attempt"`
	RequestedAt time.Time `json:"requested_at"`
}

// TaskID names the task of one start of a job. Enqueueing the same start
// twice conflicts; a later start gets a fresh ID.
func TaskID(jobID string, attempt int) string {
	return fmt.Sprintf("%s:%d", jobID, attempt)
}

func NewConvertBatchTask(payload ConvertBatchPayload) (*asynq.Task, error) {
	if len(payload.ObjectKeys) == 0 {
		return nil, errors.New("convert batch payload needs at least one object key")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal convert payload: %w", err)
	}
	return asynq.NewTask(TypeConvertBatch, body), nil
}

func ParseConvertBatchPayload(task *asynq.Task) (ConvertBatchPayload, error) {
	var payload ConvertBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ConvertBatchPayload{}, fmt.Errorf("unmarshal convert payload: %w", err)
	}
	return payload, nil
}
