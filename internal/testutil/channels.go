// Package testutil holds helpers shared by lampwatch tests.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// DefaultTestTimeout bounds waits on asynchronous test signals.
const DefaultTestTimeout = 5 * time.Second

// WaitForChannel waits for ch to fire or close, failing the test after timeout.
func WaitForChannel(t *testing.T, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		require.Fail(t, msg)
	}
}
