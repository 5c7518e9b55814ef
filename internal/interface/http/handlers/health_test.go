package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestCompositeHealthChecker_Empty(t *testing.T) {
	status := NewCompositeHealthChecker("v1").Check(context.Background())

	assert.True(t, status.Healthy)
	assert.Equal(t, "No health checks registered", status.Message)
	assert.Equal(t, "v1", status.Version)
}

func TestCompositeHealthChecker_RequiredFailure(t *testing.T) {
	c := NewCompositeHealthChecker("v1")
	c.AddCheck("storage", NewPingCheck(pinger{err: errors.New("database is locked")}))
	c.AddCheck("bus", NewPingCheck(pinger{}))

	status := c.Check(context.Background())

	assert.False(t, status.Healthy)
	assert.Equal(t, "Some checks failed: storage", status.Message)
	assert.Equal(t, "database is locked", status.Checks["storage"].Message)
	assert.True(t, status.Checks["bus"].Healthy)
}

func TestCompositeHealthChecker_OptionalFailureDegrades(t *testing.T) {
	c := NewCompositeHealthChecker("v1")
	c.AddCheck("storage", NewPingCheck(pinger{}))
	c.AddOptionalCheck("redis", NewPingCheck(pinger{err: errors.New("connection refused")}))

	status := c.Check(context.Background())

	assert.True(t, status.Healthy)
	assert.True(t, status.Degraded)
	assert.Equal(t, "Degraded: redis", status.Message)
	assert.True(t, status.Checks["redis"].Optional)
}

func TestCompositeHealthChecker_Timeout(t *testing.T) {
	c := NewCompositeHealthChecker("v1")
	c.SetTimeout(20 * time.Millisecond)
	c.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := c.Check(context.Background())

	assert.False(t, status.Healthy)
	assert.Contains(t, status.Checks["slow"].Message, "deadline exceeded")
}
