package awaitable

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestStateSucceed(t *testing.T) {
	s := NewState[string](nil, nil)

	var got []string
	s.Then(func(v string) { got = append(got, "a:"+v) })
	s.Then(func(v string) { got = append(got, "b:"+v) })
	s.OnError(func(error) { t.Fatal("unexpected failure") })

	assert.True(t, s.Succeed("hi"))
	assert.False(t, s.Succeed("again"))
	assert.False(t, s.Fail(errBoom))

	assert.Equal(t, []string{"a:hi", "b:hi"}, got)
	assert.True(t, s.Resolved())
	assert.NoError(t, s.Err())
}

func TestStateLateSubscriberIsReplayed(t *testing.T) {
	s := NewState[int](nil, nil)
	s.Succeed(3)

	got := 0
	s.Then(func(v int) { got = v })
	assert.Equal(t, 3, got)

	s.OnError(func(error) { t.Fatal("a succeeded state must not report an error") })
}

func TestStateFail(t *testing.T) {
	s := NewState[int](nil, nil)

	var got error
	s.OnError(func(err error) { got = err })
	s.Then(func(int) { t.Fatal("unexpected success") })

	assert.True(t, s.Fail(errBoom))
	assert.ErrorIs(t, got, errBoom)
	assert.ErrorIs(t, s.Err(), errBoom)

	var late error
	s.OnError(func(err error) { late = err })
	assert.ErrorIs(t, late, errBoom)
}

func TestStateMissedHooks(t *testing.T) {
	var missedValue int
	var missedErr error

	ok := NewState(func(v int) { missedValue = v }, func(err error) { missedErr = err })
	ok.Succeed(5)
	assert.Equal(t, 5, missedValue)

	bad := NewState(func(v int) { missedValue = v }, func(err error) { missedErr = err })
	bad.Then(func(int) {})
	bad.Fail(errBoom)
	assert.ErrorIs(t, missedErr, errBoom)
}

func TestStateRemoveListener(t *testing.T) {
	missed := false
	s := NewState(func(int) { missed = true }, nil)

	remove := s.Then(func(int) { t.Fatal("removed listener called") })
	remove()

	s.Succeed(1)
	assert.True(t, missed)
}

func TestStateWait(t *testing.T) {
	s := NewState[string](nil, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Succeed("done")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	v, err := s.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "done", v)

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestStateWaitFailure(t *testing.T) {
	s := NewState[string](nil, nil)
	s.Fail(errBoom)

	_, err := s.Wait(context.Background())
	assert.ErrorIs(t, err, errBoom)
}

func TestStateWaitContextDone(t *testing.T) {
	missed := false
	s := NewState(func(int) { missed = true }, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the waiter is gone, so resolution goes unheard
	s.Succeed(1)
	assert.True(t, missed)
}
