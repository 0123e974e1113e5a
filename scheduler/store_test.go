package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreCollectDeclaredOrder(t *testing.T) {
	st := newStore(diamond(t), false)

	st.get("b").Status = StatusCompleted
	st.get("b").Value = "from-b"
	st.get("c").Status = StatusCompleted
	st.get("c").Value = "from-c"

	snaps := st.collect([]string{"c", "b"})
	require.Len(t, snaps, 2)
	assert.Equal(t, "from-c", snaps[0].value)
	assert.Equal(t, "from-b", snaps[1].value)
}

func TestStoreEviction(t *testing.T) {
	st := newStore(diamond(t), true)

	st.get("a").Status = StatusCompleted
	st.get("a").Value = "payload"

	// a has two consumers (b and c); the value survives the first read.
	snaps := st.collect([]string{"a"})
	assert.Equal(t, "payload", snaps[0].value)
	assert.Equal(t, "payload", st.get("a").Value)

	snaps = st.collect([]string{"a"})
	assert.Equal(t, "payload", snaps[0].value, "snapshot taken before release")
	assert.Nil(t, st.get("a").Value, "value released after last consumer")
}

func TestStoreNoEvictionByDefault(t *testing.T) {
	st := newStore(diamond(t), false)

	st.get("a").Status = StatusCompleted
	st.get("a").Value = "payload"

	st.collect([]string{"a"})
	st.collect([]string{"a"})
	assert.Equal(t, "payload", st.get("a").Value)
}
