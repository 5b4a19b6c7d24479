package recordsink

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
)

// record is the on-disk shape of one revert sample.
type record struct {
	UserKeyID string    `json:"userKeyId"`
	Method    string    `json:"method"`
	To        string    `json:"to"`
	CallData  string    `json:"callData"`
	At        time.Time `json:"at"`
}

// LevelDB is a development-grade Sink backed by
// github.com/syndtr/goleveldb (a proxyd go.mod dependency), keyed by
// arrival time so samples sort in insertion order. Spec §6 only requires
// "fire-and-forget... may fail silently": failures here are logged at
// Debug and otherwise swallowed.
type LevelDB struct {
	db *leveldb.DB
}

var _ Sink = (*LevelDB)(nil)

// OpenLevelDB opens (creating if absent) a goleveldb store at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "opening revert store %q", path)
	}
	return &LevelDB{db: db}, nil
}

// Close releases the underlying database handle.
func (s *LevelDB) Close() error { return s.db.Close() }

// RecordRevert implements Sink.
func (s *LevelDB) RecordRevert(userKeyID, method, to, callData string, at time.Time) {
	rec := record{UserKeyID: userKeyID, Method: method, To: to, CallData: callData, At: at}
	b, err := json.Marshal(rec)
	if err != nil {
		log.Debug("recordsink: marshal failed", "err", err)
		return
	}

	key := []byte(at.UTC().Format(time.RFC3339Nano) + "-" + method)
	if err := s.db.Put(key, b, nil); err != nil {
		log.Debug("recordsink: put failed", "err", err)
	}
}
