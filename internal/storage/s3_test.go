package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewProgressReporterNilCallback(t *testing.T) {
	require.Nil(t, newProgressReporter(100, nil))
}

func TestProgressReporterFiresOnCompletion(t *testing.T) {
	var calls [][2]int64
	p := newProgressReporter(10, func(done, total int64) {
		calls = append(calls, [2]int64{done, total})
	})
	require.NotNil(t, p)

	p.report(0)
	require.Equal(t, [][2]int64{{0, 10}}, calls)

	// Mid-stream writes inside the throttle window stay silent; reaching the
	// total always fires.
	n, err := p.Write(make([]byte, 4))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Len(t, calls, 1)

	_, err = p.Write(make([]byte, 6))
	require.NoError(t, err)
	require.Equal(t, [2]int64{10, 10}, calls[len(calls)-1])

	p.flush()
	require.Equal(t, [2]int64{10, 10}, calls[len(calls)-1])
}

func TestProgressReporterEmptyWrite(t *testing.T) {
	fired := false
	p := newProgressReporter(10, func(done, total int64) { fired = true })

	n, err := p.Write(nil)
	require.NoError(t, err)
	require.Zero(t, n)
	require.False(t, fired)
}
