package cache

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sambacha/web3-proxy/libevm/jsoncmp"
)

func key(method string) Key {
	return Key{Method: method}
}

func TestInsertAndGet(t *testing.T) {
	c := New(10, 1024)
	ok := c.Insert(key("eth_getBalance"), []byte("result-bytes"))
	require.True(t, ok)

	v, found := c.Get(key("eth_getBalance"))
	require.True(t, found)
	assert.Equal(t, []byte("result-bytes"), v)
}

func TestInsertRejectsValueLargerThanMaxBytes(t *testing.T) {
	c := New(10, 4)
	ok := c.Insert(key("eth_call"), []byte("way too large"))
	assert.False(t, ok)

	_, found := c.Get(key("eth_call"))
	assert.False(t, found)
}

func TestInsertEvictsOldestOnEntryLimit(t *testing.T) {
	c := New(2, 1024)
	c.Insert(key("a"), []byte("1"))
	c.Insert(key("b"), []byte("2"))
	c.Insert(key("c"), []byte("3"))

	_, found := c.Get(key("a"))
	assert.False(t, found, "oldest entry should have been evicted")

	_, found = c.Get(key("b"))
	assert.True(t, found)
	_, found = c.Get(key("c"))
	assert.True(t, found)
	assert.Equal(t, 2, c.Len())
}

func TestInsertEvictsOldestOnByteLimit(t *testing.T) {
	c := New(100, 6)
	c.Insert(key("a"), []byte("123"))
	c.Insert(key("b"), []byte("123"))
	// total is now 6; inserting 3 more bytes must evict "a" first.
	c.Insert(key("c"), []byte("123"))

	_, found := c.Get(key("a"))
	assert.False(t, found)
	_, found = c.Get(key("b"))
	assert.True(t, found)
	_, found = c.Get(key("c"))
	assert.True(t, found)
}

func TestInsertOverwriteSameKeyDoesNotDoubleCount(t *testing.T) {
	c := New(10, 1024)
	c.Insert(key("a"), []byte("111"))
	c.Insert(key("a"), []byte("2222"))

	assert.Equal(t, 1, c.Len())
	v, found := c.Get(key("a"))
	require.True(t, found)
	assert.Equal(t, []byte("2222"), v)
}

// TestGetReturnsJSONEquivalentBytes confirms a round trip through the
// cache preserves a response's JSON structure, compared field-by-field
// with jsoncmp rather than by byte-for-byte equality: a router result
// that re-marshals a map can legally reorder keys, and the cache must
// not be blamed for that.
func TestGetReturnsJSONEquivalentBytes(t *testing.T) {
	c := New(10, 1024)
	c.Insert(key("eth_getBlockByNumber"), []byte(`{"number":"0x1","hash":"0xabc"}`))

	v, found := c.Get(key("eth_getBlockByNumber"))
	require.True(t, found)

	want := []byte(`{"hash":"0xabc","number":"0x1"}`)
	if diff := cmp.Diff(want, v, jsoncmp.AsMapToAny(t)); diff != "" {
		t.Errorf("cached value diverged from expected JSON (-want +got):\n%s", diff)
	}
}
