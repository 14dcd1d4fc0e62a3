package outbox

import (
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func openTest(t *testing.T, dir string) *Outbox {
	t.Helper()
	o, err := Open(dir)
	assert.Nil(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func collect(t *testing.T, o *Outbox, state State) []Entry {
	t.Helper()
	var out []Entry
	assert.Nil(t, o.ScanByState(state, func(e Entry) error {
		out = append(out, e)
		return nil
	}))
	return out
}

func TestAppendAndScan(t *testing.T) {
	o := openTest(t, t.TempDir())

	for _, key := range []string{"p1", "p2", "p1"} {
		_, err := o.Append(key, []byte(`{"message":"`+key+`"}`))
		assert.Nil(t, err)
	}

	entries := collect(t, o, StateNew)
	assert.Equal(t, 3, len(entries))
	for i, e := range entries {
		check.Equal(t, uint64(i+1), e.Seq)
		check.Equal(t, StateNew, e.State)
	}
	check.Equal(t, "p2", entries[1].Key)
	check.Equal(t, `{"message":"p2"}`, string(entries[1].Payload))
}

func TestUpdateStateMovesEntries(t *testing.T) {
	o := openTest(t, t.TempDir())
	seq, err := o.Append("p1", []byte("x"))
	assert.Nil(t, err)

	assert.Nil(t, o.UpdateState(seq, StateFailed, 2))

	check.Equal(t, 0, len(collect(t, o, StateNew)))
	failed := collect(t, o, StateFailed)
	assert.Equal(t, 1, len(failed))
	check.Equal(t, uint32(2), failed[0].Retries)
	check.True(t, failed[0].LastAttempt > 0)

	assert.Nil(t, o.Delete(seq))
	_, err = o.Get(seq)
	check.True(t, errors.Is(err, ErrNotFound))
	check.True(t, errors.Is(o.UpdateState(seq, StateAcked, 0), ErrNotFound))
}

func TestReopenResumesSequence(t *testing.T) {
	dir := t.TempDir()

	o, err := Open(dir)
	assert.Nil(t, err)
	_, err = o.Append("p1", []byte("a"))
	assert.Nil(t, err)
	_, err = o.Append("p1", []byte("b"))
	assert.Nil(t, err)
	assert.Nil(t, o.Close())

	reopened := openTest(t, dir)
	seq, err := reopened.Append("p1", []byte("c"))
	assert.Nil(t, err)
	check.Equal(t, uint64(3), seq)
	check.Equal(t, 3, len(collect(t, reopened, StateNew)))
}

func TestStateString(t *testing.T) {
	check.Equal(t, "NEW", StateNew.String())
	check.Equal(t, "ACKED", StateAcked.String())
	check.Equal(t, "UNKNOWN", State(9).String())
}
