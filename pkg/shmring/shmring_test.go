//go:build linux

package shmring

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func openProducer(t *testing.T, r *Ring) *Ring {
	t.Helper()

	fd, err := unix.Dup(int(r.File().Fd()))
	require.NoError(t, err)

	p, err := Open(os.NewFile(uintptr(fd), "producer"))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestDrainOrder(t *testing.T) {
	ring, err := Create("emd-test", 4096)
	require.NoError(t, err)
	defer ring.Close()

	producer := openProducer(t, ring)

	for i := 0; i < 10; i++ {
		require.NoError(t, producer.Write(&Record{
			Type:    uint16(i),
			Tid:     int32(200 + i),
			Result:  int64(-i),
			Args:    [6]uint64{uint64(i), 1, 2, 3, 4, 5},
			Payload: []byte(fmt.Sprintf("payload-%d", i)),
		}))
	}
	assert.NotZero(t, ring.Pending())

	var got []Record
	n, err := ring.Drain(func(r *Record) error {
		c := *r
		c.Payload = append([]byte(nil), r.Payload...)
		got = append(got, c)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 10, n)
	assert.Zero(t, ring.Pending())

	for i, r := range got {
		assert.Equal(t, uint16(i), r.Type)
		assert.Equal(t, int32(200+i), r.Tid)
		assert.Equal(t, int64(-i), r.Result)
		assert.Equal(t, uint64(i), r.Args[0])
		assert.Equal(t, fmt.Sprintf("payload-%d", i), string(r.Payload))
	}
}

func TestWrapAround(t *testing.T) {
	ring, err := Create("emd-test", HeaderSize+1024)
	require.NoError(t, err)
	defer ring.Close()

	payload := make([]byte, 100)
	next := 0
	for round := 0; round < 20; round++ {
		for i := 0; i < 3; i++ {
			require.NoError(t, ring.Write(&Record{Type: uint16(next % 400), Payload: payload}))
			next++
		}

		want := next - 3
		n, err := ring.Drain(func(r *Record) error {
			assert.Equal(t, uint16(want%400), r.Type)
			assert.Len(t, r.Payload, 100)
			want++
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, n)
	}

	assert.Zero(t, ring.Dropped())
}

func TestFullRingDrops(t *testing.T) {
	ring, err := Create("emd-test", HeaderSize+1024)
	require.NoError(t, err)
	defer ring.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, ring.Write(&Record{Payload: make([]byte, 100)}))
	}
	assert.NotZero(t, ring.Dropped())

	n, err := ring.Drain(func(*Record) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 20-int(ring.Dropped()), n)

	err = ring.Write(&Record{Payload: make([]byte, 1024)})
	assert.ErrorIs(t, err, ErrRecordSize)
}

func TestOpenErrors(t *testing.T) {
	_, err := Create("emd-test", 16)
	assert.ErrorIs(t, err, ErrTooSmall)

	f, err := os.CreateTemp(t.TempDir(), "ring")
	require.NoError(t, err)
	require.NoError(t, f.Truncate(4096))

	_, err = Open(f)
	assert.ErrorIs(t, err, ErrBadHeader)
}
