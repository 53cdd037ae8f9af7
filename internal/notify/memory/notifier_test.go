package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

func TestNotifierRecordsAlerts(t *testing.T) {
	t.Parallel()

	n := New()
	require.NoError(t, n.Notify(context.Background(), watch.Alert{TargetID: "a"}))
	require.NoError(t, n.Notify(context.Background(), watch.Alert{TargetID: "b"}))
	assert.Equal(t, 2, n.Count())

	alerts := n.Alerts()
	alerts[0].TargetID = "mutated"
	assert.Equal(t, "a", n.Alerts()[0].TargetID)
}

func TestNotifierFailWith(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	n := New()
	n.FailWith(boom)
	require.ErrorIs(t, n.Notify(context.Background(), watch.Alert{}), boom)
	assert.Zero(t, n.Count())

	n.FailWith(nil)
	require.NoError(t, n.Notify(context.Background(), watch.Alert{}))
	assert.Equal(t, 1, n.Count())
}
