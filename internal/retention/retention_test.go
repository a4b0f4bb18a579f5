package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelusa-v/pelusa-chat/internal/config"
)

type countingExpirer struct {
	calls int
	err   error
}

func (p *countingExpirer) ExpireMessages(context.Context) (int64, error) {
	p.calls++
	return 3, p.err
}

func TestNewRejectsBadCron(t *testing.T) {
	_, err := New(&countingExpirer{}, config.RetentionConfig{Cron: "every tuesday"}, nil)
	assert.Error(t, err)

	s, err := New(&countingExpirer{}, config.RetentionConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "0 3 * * *", s.cron)
}

func TestNextTick(t *testing.T) {
	s, err := New(&countingExpirer{}, config.RetentionConfig{Cron: "30 2 * * *"}, nil)
	require.NoError(t, err)

	next, err := s.Next(time.Date(2031, 1, 1, 5, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2031, 1, 2, 2, 30, 0, 0, time.UTC), next)
}

func TestRunOnce(t *testing.T) {
	p := &countingExpirer{}
	s, err := New(p, config.RetentionConfig{}, nil)
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, p.calls)

	p.err = errors.New("db down")
	assert.Error(t, s.RunOnce(context.Background()))
}

func TestRunStopsWithContext(t *testing.T) {
	s, err := New(&countingExpirer{}, config.RetentionConfig{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
