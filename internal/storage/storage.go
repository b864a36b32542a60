// Package storage provides persistent prediction history for the churn
// service. It uses BoltDB as the underlying storage engine.
//
// Records live in a time-ordered primary bucket keyed "timestamp_id". Two
// secondary buckets index them by customer: every record under a
// length-prefixed customer id followed by "timestamp_id", and the newest
// record per customer under the bare customer id.
package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"churninsight/internal/features"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	predictionsBucket = "predictions"     // Primary records, chronological
	customersBucket   = "customer_index"  // len(customer) customer key -> key
	latestBucket      = "customer_latest" // customer -> key of newest record
	dbFile            = "churninsight.db"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// Time keys are UnixNano, so only this window is representable. Times
// outside it are stored and searched at the nearest edge.
var (
	minKeyTime = time.Unix(0, 0).UTC()
	maxKeyTime = time.Unix(0, math.MaxInt64).UTC()
)

// HistoryRecord is one persisted prediction.
type HistoryRecord struct {
	ID          string                    `json:"id"`
	CustomerID  string                    `json:"customer_id"`
	Features    features.CustomerFeatures `json:"features"`
	Probability float64                   `json:"probability"`
	Label       string                    `json:"label"`
	RiskLevel   string                    `json:"risk_level"`
	CreatedAt   time.Time                 `json:"created_at"`
}

// Page is a newest-first slice of records.
type Page struct {
	Records []HistoryRecord `json:"records"`
	Page    int             `json:"page"`
	Size    int             `json:"size"`
	Total   int             `json:"total"`
}

// Store provides persistent storage for prediction history using BoltDB.
type Store struct {
	db *bbolt.DB
}

// New opens (creating if needed) the history database under dataPath.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataPath, dbFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Update(createBuckets); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func createBuckets(tx *bbolt.Tx) error {
	for _, name := range []string{predictionsBucket, customersBucket, latestBucket} {
		if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
			return fmt.Errorf("create %s bucket: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveRecord persists rec, assigning an ID and timestamp when unset.
func (s *Store) SaveRecord(rec *HistoryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	key := recordKey(rec.CreatedAt, rec.ID)

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(predictionsBucket)).Put(key, data); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(customersBucket)).Put(customerKey(rec.CustomerID, key), key); err != nil {
			return err
		}

		latest := tx.Bucket([]byte(latestBucket))
		if prev := latest.Get([]byte(rec.CustomerID)); prev == nil || bytes.Compare(prev, key) < 0 {
			return latest.Put([]byte(rec.CustomerID), key)
		}
		return nil
	})
}

// Recent returns all records, newest first.
func (s *Store) Recent(page, size int) (Page, error) {
	page, size = normalizePage(page, size)
	out := Page{Page: page, Size: size, Records: []HistoryRecord{}}

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))
		out.Total = b.Stats().KeyN

		skip := page * size
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(out.Records) < size; k, v = c.Prev() {
			if skip > 0 {
				skip--
				continue
			}
			rec, err := decode(v)
			if err != nil {
				continue // Skip malformed records
			}
			out.Records = append(out.Records, rec)
		}
		return nil
	})
	return out, err
}

// ByCustomer returns one customer's records, newest first.
func (s *Store) ByCustomer(customerID string, page, size int) (Page, error) {
	page, size = normalizePage(page, size)
	out := Page{Page: page, Size: size, Records: []HistoryRecord{}}

	err := s.db.View(func(tx *bbolt.Tx) error {
		var keys [][]byte
		prefix := customerKey(customerID, nil)
		c := tx.Bucket([]byte(customersBucket)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			keys = append(keys, v)
		}
		out.Total = len(keys)
		out.Records = fetchNewestFirst(tx, keys, page, size)
		return nil
	})
	return out, err
}

// InRange returns records created within [start, end], newest first.
func (s *Store) InRange(start, end time.Time, page, size int) (Page, error) {
	page, size = normalizePage(page, size)
	out := Page{Page: page, Size: size, Records: []HistoryRecord{}}
	if end.Before(start) {
		return out, nil
	}

	startKey := []byte(timeKey(start))
	// Every key at end's nanosecond sorts below this bound.
	endKey := []byte(timeKey(end) + "_\xff")

	err := s.db.View(func(tx *bbolt.Tx) error {
		var keys [][]byte
		c := tx.Bucket([]byte(predictionsBucket)).Cursor()
		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			// Edge keys may hold records from beyond the window.
			if atKeyEdge(k) {
				rec, err := decode(v)
				if err != nil || rec.CreatedAt.Before(start) || rec.CreatedAt.After(end) {
					continue
				}
			}
			keys = append(keys, append([]byte(nil), k...))
		}
		out.Total = len(keys)
		out.Records = fetchNewestFirst(tx, keys, page, size)
		return nil
	})
	return out, err
}

// Latest returns the newest record for a customer.
func (s *Store) Latest(customerID string) (HistoryRecord, bool, error) {
	var (
		rec   HistoryRecord
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(latestBucket)).Get([]byte(customerID))
		if key == nil {
			return nil
		}
		v := tx.Bucket([]byte(predictionsBucket)).Get(key)
		if v == nil {
			return nil
		}
		var err error
		rec, err = decode(v)
		found = err == nil
		return err
	})
	return rec, found, err
}

// LatestPerCustomer returns the newest record of every customer.
func (s *Store) LatestPerCustomer() ([]HistoryRecord, error) {
	var out []HistoryRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		primary := tx.Bucket([]byte(predictionsBucket))
		return tx.Bucket([]byte(latestBucket)).ForEach(func(_, key []byte) error {
			v := primary.Get(key)
			if v == nil {
				return nil
			}
			if rec, err := decode(v); err == nil {
				out = append(out, rec)
			}
			return nil
		})
	})
	return out, err
}

// CustomersWithRisk counts distinct customers having at least one record at
// the given risk level.
func (s *Store) CustomersWithRisk(riskLevel string) (int, error) {
	seen := make(map[string]struct{})
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(predictionsBucket)).ForEach(func(_, v []byte) error {
			rec, err := decode(v)
			if err != nil {
				return nil
			}
			if rec.RiskLevel == riskLevel {
				seen[rec.CustomerID] = struct{}{}
			}
			return nil
		})
	})
	return len(seen), err
}

// Count returns the number of stored records.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(predictionsBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// Clear deletes all history.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{predictionsBucket, customersBucket, latestBucket} {
			if err := tx.DeleteBucket([]byte(name)); err != nil && err != bbolt.ErrBucketNotFound {
				return fmt.Errorf("delete %s bucket: %w", name, err)
			}
		}
		return createBuckets(tx)
	})
}

func fetchNewestFirst(tx *bbolt.Tx, keys [][]byte, page, size int) []HistoryRecord {
	records := []HistoryRecord{}
	primary := tx.Bucket([]byte(predictionsBucket))
	skip := page * size
	for i := len(keys) - 1; i >= 0 && len(records) < size; i-- {
		if skip > 0 {
			skip--
			continue
		}
		v := primary.Get(keys[i])
		if v == nil {
			continue
		}
		if rec, err := decode(v); err == nil {
			records = append(records, rec)
		}
	}
	return records
}

func decode(data []byte) (HistoryRecord, error) {
	var rec HistoryRecord
	err := json.Unmarshal(data, &rec)
	return rec, err
}

func normalizePage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

// timeKey is fixed width so lexical order matches chronological order.
func timeKey(t time.Time) string {
	switch {
	case t.Before(minKeyTime):
		t = minKeyTime
	case t.After(maxKeyTime):
		t = maxKeyTime
	}
	return fmt.Sprintf("%020d", t.UnixNano())
}

func atKeyEdge(k []byte) bool {
	return bytes.HasPrefix(k, []byte(timeKey(minKeyTime)+"_")) ||
		bytes.HasPrefix(k, []byte(timeKey(maxKeyTime)+"_"))
}

func recordKey(t time.Time, id string) []byte {
	return []byte(timeKey(t) + "_" + id)
}

// customerKey length-prefixes the id so no customer's prefix matches another's.
func customerKey(customerID string, key []byte) []byte {
	out := make([]byte, 0, 4+len(customerID)+len(key))
	out = binary.BigEndian.AppendUint32(out, uint32(len(customerID)))
	out = append(out, customerID...)
	return append(out, key...)
}
