package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextsCarryDeadlines(t *testing.T) {
	tests := []struct {
		name    string
		derive  func(context.Context) (context.Context, context.CancelFunc)
		timeout time.Duration
	}{
		{name: "read", derive: ReadContext, timeout: ReadTimeout},
		{name: "write", derive: WriteContext, timeout: WriteTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := tt.derive(context.Background())
			defer cancel()

			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			assert.WithinDuration(t, time.Now().Add(tt.timeout), deadline, time.Second)
		})
	}
}

func TestShorterParentDeadlineWins(t *testing.T) {
	parent, cancelParent := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelParent()

	ctx, cancel := ReadContext(parent)
	defer cancel()

	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}
