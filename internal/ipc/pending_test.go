package ipc

import (
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingTableNoReuse(t *testing.T) {
	tbl := newPendingTable("desktop")
	seen := make(map[string]bool, 10000)
	for i := 0; i < 10000; i++ {
		id, _ := tbl.allocate(1, "m")
		if seen[id] {
			t.Fatalf("id %q reused after %d allocations", id, i)
		}
		seen[id] = true
	}
	assert.Equal(t, 10000, tbl.len())
}

func TestPendingTableWrapSkipsLiveIDs(t *testing.T) {
	tbl := newPendingTable("p")
	live, _ := tbl.allocate(1, "m")
	require.Equal(t, "p0", live)

	tbl.counter = maxRequestID - 1
	id, _ := tbl.allocate(1, "m")
	assert.Equal(t, "p"+strconv.FormatUint(maxRequestID-1, 10), id)

	id, _ = tbl.allocate(1, "m")
	assert.Equal(t, "p1", id, "counter wraps to zero and skips the live p0")

	id, _ = tbl.allocate(1, "m")
	assert.Equal(t, "p2", id)
}

func TestPendingTableSettleOnce(t *testing.T) {
	tbl := newPendingTable("")
	id, done := tbl.allocate(7, "m")

	assert.True(t, tbl.resolve(id, 7, json.RawMessage(`"ok"`)))
	assert.False(t, tbl.resolve(id, 7, json.RawMessage(`"again"`)))
	assert.False(t, tbl.reject(id, 7, errors.New("late")))

	res := <-done
	assert.NoError(t, res.err)
	assert.JSONEq(t, `"ok"`, string(res.value))
	select {
	case extra := <-done:
		t.Fatalf("second completion: %+v", extra)
	default:
	}
}

func TestPendingTableUnknownIDHasNoEffect(t *testing.T) {
	tbl := newPendingTable("")
	id, done := tbl.allocate(1, "m")

	assert.False(t, tbl.resolve("missing", 1, nil))
	assert.False(t, tbl.reject("missing", 1, errors.New("x")))
	assert.Equal(t, 1, tbl.len())
	select {
	case <-done:
		t.Fatal("unrelated slot was completed")
	default:
	}
	assert.True(t, tbl.resolve(id, 1, nil))
}

func TestPendingTableRejectsForeignActor(t *testing.T) {
	tbl := newPendingTable("")
	id, _ := tbl.allocate(1, "m")
	assert.False(t, tbl.resolve(id, 2, nil))
	assert.Equal(t, 1, tbl.len())
}

func TestPendingTableFailActor(t *testing.T) {
	tbl := newPendingTable("")
	var aDone []<-chan callResult
	for i := 0; i < 3; i++ {
		_, done := tbl.allocate(1, "m")
		aDone = append(aDone, done)
	}
	_, bDone := tbl.allocate(2, "m")

	boom := errors.New("gone")
	assert.Equal(t, 3, tbl.failActor(1, boom))
	for _, done := range aDone {
		res := <-done
		assert.ErrorIs(t, res.err, boom)
	}
	assert.Equal(t, 1, tbl.len())
	assert.Equal(t, 1, tbl.countFor(2))
	select {
	case <-bDone:
		t.Fatal("actor 2 call was failed")
	default:
	}

	assert.Equal(t, 1, tbl.failAll(boom))
	assert.Equal(t, 0, tbl.len())
}
