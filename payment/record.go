// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package payment

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
)

// PaymentRecord is the immutable settlement record written exactly once per
// successful payment. Records are keyed by a monotonically increasing id
// and never mutated or deleted.
type PaymentRecord struct {
	ID        uint64         `json:"id"`
	EventID   string         `json:"eventId"`
	Payer     common.Address `json:"payer"`
	AssetIn   common.Address `json:"assetIn"`
	AmountIn  *big.Int       `json:"amountIn"`
	NetAmount *big.Int       `json:"netAmount"`
	Recipient common.Address `json:"recipient"`
	Timestamp int64          `json:"timestamp"`
	Route     string         `json:"route"` // serialized route, audit only
}

var (
	recordPrefix   = []byte("pay")
	counterKey     = []byte("paycount")
	ErrDuplicateID = errors.New("payment id already finalized")
	ErrNotFound    = errors.New("payment not found")
)

// recordStore persists payment records append-only on a database.Database.
type recordStore struct {
	db database.Database
}

func newRecordStore(db database.Database) *recordStore {
	return &recordStore{db: db}
}

func recordKey(id uint64) []byte {
	key := make([]byte, len(recordPrefix)+8)
	copy(key, recordPrefix)
	binary.BigEndian.PutUint64(key[len(recordPrefix):], id)
	return key
}

// put writes a record and the id counter in a single batch so either both
// land or neither does; a failed write must not leave an orphan record that
// would collide with the id's reallocation. Ids are allocated monotonically
// and never reused; the overwrite check is defensive.
func (s *recordStore) put(rec *PaymentRecord) error {
	key := recordKey(rec.ID)
	ok, err := s.db.Has(key)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %d", ErrDuplicateID, rec.ID)
	}

	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], rec.ID)

	batch := s.db.NewBatch()
	if err := batch.Put(key, blob); err != nil {
		return err
	}
	if err := batch.Put(counterKey, count[:]); err != nil {
		return err
	}
	return batch.Write()
}

func (s *recordStore) get(id uint64) (*PaymentRecord, error) {
	blob, err := s.db.Get(recordKey(id))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return nil, err
	}
	rec := new(PaymentRecord)
	if err := json.Unmarshal(blob, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// lastID returns the highest assigned payment id, 0 if none.
func (s *recordStore) lastID() (uint64, error) {
	blob, err := s.db.Get(counterKey)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if len(blob) != 8 {
		return 0, errors.New("corrupt payment counter")
	}
	return binary.BigEndian.Uint64(blob), nil
}

// SerializeRoute renders a route as a bracketed, comma-separated, quoted
// list of asset identities. Audit/display only; never parsed back for
// control decisions.
func SerializeRoute(route []common.Address) string {
	hexes := make([]string, len(route))
	for i, asset := range route {
		hexes[i] = asset.Hex()
	}
	blob, _ := json.Marshal(hexes)
	return string(blob)
}
