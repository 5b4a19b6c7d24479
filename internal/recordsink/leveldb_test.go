package recordsink

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sambacha/web3-proxy/internal/backend"
)

func TestLevelDBRecordRevertPersistsEntry(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenLevelDB(filepath.Join(dir, "reverts"))
	require.NoError(t, err)
	defer s.Close()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.RecordRevert("key-1", "eth_call", "0xdead", "0xbeef", at)

	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	require.True(t, iter.Next())

	var rec record
	require.NoError(t, json.Unmarshal(iter.Value(), &rec))
	require.Equal(t, "key-1", rec.UserKeyID)
	require.Equal(t, "eth_call", rec.Method)
	require.Equal(t, "0xdead", rec.To)
	require.Equal(t, "0xbeef", rec.CallData)
	require.True(t, at.Equal(rec.At))

	require.False(t, iter.Next())
}

func TestLevelDBSatisfiesBothSinkInterfaces(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenLevelDB(filepath.Join(dir, "reverts"))
	require.NoError(t, err)
	defer s.Close()

	var _ Sink = s
	var _ backend.RevertSink = s
}
