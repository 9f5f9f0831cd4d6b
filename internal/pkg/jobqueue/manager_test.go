package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// offlineRedis never connects unless a command is issued.
func offlineRedis(t *testing.T) *redis.Client {
	c := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewManagerStructure(t *testing.T) {
	svc, _, _ := newTestService(t)
	m := NewManager(svc, offlineRedis(t), 4)

	assert.NotNil(t, m.GetQueue())
	assert.Equal(t, 4, m.GetQueue().workers)
	assert.NotNil(t, m.stopCh)
	assert.False(t, m.IsRunning())
	assert.False(t, m.HoldsLease())
}

func TestManager_StopWithoutStart(t *testing.T) {
	svc, _, _ := newTestService(t)
	m := NewManager(svc, offlineRedis(t), 1)

	m.Stop()
	assert.False(t, m.IsRunning())
}

func TestManager_RunNowWithoutRedis(t *testing.T) {
	svc, db, _ := newTestService(t)
	createAccount(t, db, lapsedPlus("sub_a"))
	createAccount(t, db, lapsedPlus("sub_b"))
	m := NewManager(svc, offlineRedis(t), 1)

	report, err := m.RunNow(context.Background(), "admin:ops")
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Candidates: 2, Changed: 2}, report)

	report, err = m.RunNow(context.Background(), "admin:ops")
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report, "a second run finds nothing left to do")
}

func TestManager_LeaseGatesSweeps(t *testing.T) {
	svc, db, _ := newTestService(t)
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	id := createAccount(t, db, lapsedPlus("sub_a"))

	a := NewManager(svc, client, 1)
	b := NewManager(svc, client, 1)

	a.refreshLease()
	b.refreshLease()
	assert.True(t, a.HoldsLease())
	assert.False(t, b.HoldsLease())

	_, err := a.expiration.Scan(context.Background(), a.enqueuer(JobTypeDailyCheck))
	require.NoError(t, err)
	_, err = b.expiration.Scan(context.Background(), b.enqueuer(JobTypeDailyCheck))
	require.NoError(t, err)

	size, err := a.GetQueue().GetQueueSize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), size, "user %d is queued once", id)

	a.running = true
	a.stopCh = make(chan struct{})
	a.holding.Store(true)
	a.Stop()

	b.refreshLease()
	assert.True(t, b.HoldsLease(), "lease passes on after release")
}
