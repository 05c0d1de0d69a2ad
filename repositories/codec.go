package repositories

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	jsoniter "github.com/json-iterator/go"

	"marketplace-inbox/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxTxnRetries bounds optimistic retries after badger reports a write conflict.
const maxTxnRetries = 10

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return errors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStorage, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, in any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	return txn.Set(key, raw)
}

// updateWithRetry reruns fn in a fresh transaction when another writer committed first.
func updateWithRetry(db *badger.DB, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err = db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return asConflict(err)
}

// asConflict maps a badger write conflict onto errors.ErrConflict.
func asConflict(err error) error {
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %v", errors.ErrConflict, err)
	}
	return err
}
