package jobqueue

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	// JobTypeCheckExpiring resumes paused billing shortly before the
	// covering credit of one account lapses.
	JobTypeCheckExpiring JobType = "check_expiring"
	// JobTypeDailyCheck runs expiration handling for one account.
	JobTypeDailyCheck JobType = "daily_check"
	// JobTypeCleanupCustomers reconciles duplicate provider customers of one account.
	JobTypeCleanupCustomers JobType = "cleanup_customers"
	// JobTypeSweepGiftTokens expires gift tokens past their deadline.
	JobTypeSweepGiftTokens JobType = "sweep_gift_tokens"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
	// DedupKey is held while the job is queued so a sweep does not enqueue
	// the same account twice.
	DedupKey    string                 `json:"dedup_key,omitempty"`
}

// AccountJobPayload addresses a job at one account.
type AccountJobPayload struct {
	UserID uint   `json:"user_id"`
	Actor  string `json:"actor"`
}

// ToMap converts the payload to a map for storage
func (p AccountJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"user_id": p.UserID,
		"actor":   p.Actor,
	}
}

// AccountJobPayloadFromMap decodes a payload stored by ToMap.
func AccountJobPayloadFromMap(data map[string]interface{}) (*AccountJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload AccountJobPayload
	if err := json.Unmarshal(jsonData, &payload); err != nil {
		return nil, err
	}
	if payload.UserID == 0 {
		return nil, fmt.Errorf("payload has no user_id")
	}
	return &payload, nil
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
