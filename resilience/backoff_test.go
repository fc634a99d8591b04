package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBackoff_DelayClampsToLastSchedule(t *testing.T) {
	b := Sequencer()
	require.Equal(t, b.Delays[0], b.Delay(0))
	require.Equal(t, b.Delays[len(b.Delays)-1], b.Delay(99))
}

func TestBackoff_Retry_SucceedsWithinMaxRetries(t *testing.T) {
	b := Backoff{} // zero delays: Retry runs immediately
	attempts := 0
	err := b.Retry(context.Background(), 3, func(attempt int) error {
		attempts++
		if attempt < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestBackoff_Retry_ExhaustsAndSurfacesLastError(t *testing.T) {
	b := Backoff{}
	wantErr := errors.New("still failing")
	err := b.Retry(context.Background(), 2, func(int) error { return wantErr })
	require.ErrorIs(t, err, wantErr)
}

func TestMonitor_CapsAt30Seconds(t *testing.T) {
	m := Monitor()
	last := m.Delays[len(m.Delays)-1]
	require.LessOrEqual(t, last.Seconds(), 30.0)
}
