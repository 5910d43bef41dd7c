package system

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/preesu/boardd/internal/loop"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func TestRestartFiresOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := loop.New()
	go l.Run(ctx)

	var calls atomic.Int32
	r := NewRestarter(l, func() { calls.Add(1) }, testLogger())
	r.RestartAfter(10 * time.Millisecond)
	r.RestartAfter(time.Millisecond)

	select {
	case <-r.Requested():
	case <-time.After(time.Second):
		t.Fatal("restart did not fire")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCommandRunner(t *testing.T) {
	r := NewCommandRunner(testLogger())
	out, err := r.Run(context.Background(), "sh", "-c", "printf hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))

	_, err = r.Run(context.Background(), "sh", "-c", "echo broken >&2; exit 2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}
