package jobqueue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobType(t *testing.T) {
	assert.Equal(t, "check_expiring", string(JobTypeCheckExpiring))
	assert.Equal(t, "daily_check", string(JobTypeDailyCheck))
	assert.Equal(t, "cleanup_customers", string(JobTypeCleanupCustomers))
	assert.Equal(t, "sweep_gift_tokens", string(JobTypeSweepGiftTokens))
}

func TestJob_IsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		job       *Job
		retryable bool
	}{
		{"Failed job with retries remaining", &Job{Status: JobStatusFailed, RetryCount: 1, MaxRetries: 3}, true},
		{"Failed job with no retries remaining", &Job{Status: JobStatusFailed, RetryCount: 3, MaxRetries: 3}, false},
		{"Completed job", &Job{Status: JobStatusCompleted, RetryCount: 1, MaxRetries: 3}, false},
		{"Pending job", &Job{Status: JobStatusPending, MaxRetries: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.job.IsRetryable())
		})
	}
}

func TestJob_StatusTransitions(t *testing.T) {
	job := &Job{Status: JobStatusPending, MaxRetries: 3}
	before := time.Now()

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)
	assert.False(t, job.UpdatedAt.Before(before))

	job.MarkAsFailed("provider unavailable")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "provider unavailable", job.ErrorMsg)
	assert.Equal(t, 1, job.RetryCount)

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.ErrorMsg)
}

func TestAccountJobPayload_SurvivesStorage(t *testing.T) {
	job := &Job{
		ID:      "job-1",
		Type:    JobTypeDailyCheck,
		Payload: AccountJobPayload{UserID: 42, Actor: "sweeper:daily_check"}.ToMap(),
	}

	// Jobs are stored as JSON, which turns the user id into a float64.
	raw, err := json.Marshal(job)
	require.NoError(t, err)
	var stored Job
	require.NoError(t, json.Unmarshal(raw, &stored))

	p, err := AccountJobPayloadFromMap(stored.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint(42), p.UserID)
	assert.Equal(t, "sweeper:daily_check", p.Actor)
}

func TestAccountJobPayloadFromMap_RequiresUser(t *testing.T) {
	_, err := AccountJobPayloadFromMap(map[string]interface{}{"actor": "x"})
	assert.Error(t, err)

	_, err = AccountJobPayloadFromMap(map[string]interface{}{"user_id": "not-a-number"})
	assert.Error(t, err)
}
