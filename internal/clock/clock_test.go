package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRun_ElapsedIsMonotonic(t *testing.T) {
	r := NewRun()
	first := r.Elapsed()
	second := r.Elapsed()

	require.GreaterOrEqual(t, first, time.Duration(0))
	require.GreaterOrEqual(t, second, first)
}

func TestFake_ReturnsStampsInOrder(t *testing.T) {
	f := NewFake(time.Second, 2*time.Second)

	require.Equal(t, time.Second, f.Elapsed())
	require.Equal(t, 2*time.Second, f.Elapsed())
	require.Equal(t, 2*time.Second, f.Elapsed())
}

func TestFake_RepeatsLastStamp(t *testing.T) {
	f := NewFake(3 * time.Second)

	require.Equal(t, 3*time.Second, f.Elapsed())
	require.Equal(t, 3*time.Second, f.Elapsed())

	f.Push(4 * time.Second)
	require.Equal(t, 4*time.Second, f.Elapsed())
}

func TestFake_ZeroWhenEmpty(t *testing.T) {
	f := NewFake()
	require.Equal(t, time.Duration(0), f.Elapsed())
}
