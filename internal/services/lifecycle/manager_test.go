package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownRunsHooksInReverse(t *testing.T) {
	m := New(time.Second, nil)
	var order []string
	for _, name := range []string{"postgres", "buffer", "http_server"} {
		name := name
		m.Register(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	m.Register("ignored", nil)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, []string{"http_server", "buffer", "postgres"}, order)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Len(t, order, 3, "hooks run once")
}

func TestShutdownJoinsFailures(t *testing.T) {
	m := New(50*time.Millisecond, nil)
	boom := errors.New("boom")
	ran := false

	m.Register("first", func(ctx context.Context) error {
		ran = true
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return nil
	})
	m.Register("broken", func(ctx context.Context) error { return boom })

	err := m.Shutdown(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, ran, "a failing hook must not stop the rest")
	assert.ErrorIs(t, m.Shutdown(context.Background()), boom)
}

func TestContextCancelsWithParent(t *testing.T) {
	m := New(0, nil)
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := m.Context(parent)
	defer cancel()

	cancelParent()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled")
	}
}
