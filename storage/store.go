package storage

import (
	"encoding/json"
	"fmt"
)

// SpammerRecord is the unit of local truth: one current record per reported
// identifier. Conflicts from different gossip paths resolve by comparing
// timestamps, not arrival order.
type SpammerRecord struct {
	UserID    string `json:"user_id"`
	Note      string `json:"note,omitempty"`
	Timestamp int64  `json:"timestamp"`
	OriginID  string `json:"origin_id,omitempty"`
	IsSpammer bool   `json:"is_spammer"`

	// Provenance blobs carried opaquely from the reporting services.
	// They may arrive double-encoded over the wire; the codec normalizes
	// them before they get here.
	LolsBotData interface{} `json:"lols_bot_data,omitempty"`
	CasChatData interface{} `json:"cas_chat_data,omitempty"`
	P2PData     interface{} `json:"p2p_data,omitempty"`
}

// SpammerStore is the spammer-record table. All access goes through it; no
// other component writes the underlying storage directly.
type SpammerStore struct {
	storage Storage
}

// NewSpammerStore creates the record tier on top of a Storage.
func NewSpammerStore(storage Storage) *SpammerStore {
	return &SpammerStore{storage: storage}
}

// Close releases the underlying storage.
func (ss *SpammerStore) Close() error {
	return ss.storage.Close()
}

// Get returns the current record for an identifier, or nil if none exists.
func (ss *SpammerStore) Get(userID string) (*SpammerRecord, error) {
	data, err := ss.storage.Get(SpammerKey(userID))
	if err != nil {
		if err == ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var rec SpammerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal spammer record: %v", err)
	}
	return &rec, nil
}

// Upsert stores a record using last-write-wins on timestamp. The read and
// the conditional write happen in one transaction, so concurrent upserts of
// the same identifier serialize and readers never observe a half-written
// record. It returns true when the store changed; an incoming record that is
// not strictly newer than the stored one leaves the store untouched.
func (ss *SpammerStore) Upsert(rec *SpammerRecord) (bool, error) {
	if rec.UserID == "" {
		return false, fmt.Errorf("spammer record has no user_id")
	}

	changed := false
	err := ss.storage.Update(func(txn Transaction) error {
		existing, err := txn.Get(SpammerKey(rec.UserID))
		if err != nil && err != ErrKeyNotFound {
			return err
		}
		if existing != nil {
			var cur SpammerRecord
			if uerr := json.Unmarshal(existing, &cur); uerr == nil {
				if cur.Timestamp >= rec.Timestamp {
					return nil
				}
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal spammer record: %v", err)
		}
		if err := txn.Set(SpammerKey(rec.UserID), data); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// Delete removes the record for an identifier. Returns true when a record
// existed. Records are never deleted automatically; this backs the manual
// amnesty path only.
func (ss *SpammerStore) Delete(userID string) (bool, error) {
	existed := false
	err := ss.storage.Update(func(txn Transaction) error {
		has, err := txn.Has(SpammerKey(userID))
		if err != nil {
			return err
		}
		if !has {
			return nil
		}
		existed = true
		return txn.Delete(SpammerKey(userID))
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

// All returns every stored record, used for state transfer to newly joined
// peers and for the listing endpoint.
func (ss *SpammerStore) All() ([]*SpammerRecord, error) {
	var records []*SpammerRecord

	iter := ss.storage.Iterator([]byte(SpammerPrefix))
	defer iter.Close()

	for iter.Next() {
		var rec SpammerRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue // Skip invalid records
		}
		records = append(records, &rec)
	}

	return records, iter.Error()
}

// Count returns the number of stored records.
func (ss *SpammerStore) Count() (int, error) {
	count := 0
	iter := ss.storage.Iterator([]byte(SpammerPrefix))
	defer iter.Close()
	for iter.Next() {
		count++
	}
	return count, iter.Error()
}
