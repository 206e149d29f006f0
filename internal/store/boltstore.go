package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/djkazic/creatorsplit/internal/types"
)

var (
	bucketStats    = []byte("stats")
	bucketLogs     = []byte("claim_logs")
	bucketLogOrder = []byte("claim_log_order")
	bucketLeases   = []byte("leases")
)

// BoltStore is a single-host Store backed by a bbolt file. bbolt serializes
// writers, so every compare-and-swap runs inside one write transaction.
type BoltStore struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// NewBoltStore opens or creates the database at path.
func NewBoltStore(path string, logger *zap.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketStats, bucketLogs, bucketLogOrder, bucketLeases} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("store")
	logger.Info("opened bolt store", zap.String("path", path))

	return &BoltStore{db: db, logger: logger}, nil
}

func (s *BoltStore) Get(_ context.Context, key string) (string, bool, error) {
	var value string
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketStats).Get([]byte(key))
		if v != nil {
			value, ok = string(v), true
		}
		return nil
	})
	return value, ok, err
}

func (s *BoltStore) Put(_ context.Context, key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketStats).Put([]byte(key), []byte(value))
	})
}

func (s *BoltStore) AppendLog(_ context.Context, entry types.DisbursementLogEntry) (bool, error) {
	data, err := encodeLogCBOR(entry)
	if err != nil {
		return false, err
	}
	data = compressValue(data)

	inserted := false
	err = s.db.Update(func(tx *bbolt.Tx) error {
		logs := tx.Bucket(bucketLogs)
		key := []byte(entry.Signature)
		if logs.Get(key) != nil {
			return nil
		}
		if err := logs.Put(key, data); err != nil {
			return err
		}

		order := tx.Bucket(bucketLogOrder)
		seq, err := order.NextSequence()
		if err != nil {
			return err
		}
		var seqKey [8]byte
		binary.BigEndian.PutUint64(seqKey[:], seq)
		if err := order.Put(seqKey[:], key); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

func (s *BoltStore) ReadLogs(_ context.Context, limit int) ([]types.DisbursementLogEntry, error) {
	var entries []types.DisbursementLogEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		logs := tx.Bucket(bucketLogs)
		c := tx.Bucket(bucketLogOrder).Cursor()
		for k, sig := c.Last(); k != nil; k, sig = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			data := logs.Get(sig)
			if data == nil {
				continue
			}
			raw, err := decompressValue(data)
			if err != nil {
				return fmt.Errorf("decompress log %s: %w", sig, err)
			}
			e, err := decodeLogCBOR(string(sig), raw)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

func (s *BoltStore) LastClaim(_ context.Context) (*types.ClaimRecord, error) {
	var rec *types.ClaimRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketStats)
		sig := b.Get([]byte(KeyLastClaimSig))
		if sig == nil {
			return nil
		}
		var err error
		rec, err = claimRecordFromStats(string(sig),
			string(b.Get([]byte(KeyLastClaimTS))),
			string(b.Get([]byte(KeyLastClaimLamports))))
		return err
	})
	return rec, err
}

func (s *BoltStore) RecordClaim(_ context.Context, prevSig string, rec types.ClaimRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketStats)
		if current := string(b.Get([]byte(KeyLastClaimSig))); current != prevSig {
			return ErrClaimConflict
		}
		for k, v := range claimRecordStats(rec) {
			if err := b.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) RecordRunMetrics(ctx context.Context, m types.RunMetrics) error {
	value, err := encodeRunMetrics(m)
	if err != nil {
		return err
	}
	return s.Put(ctx, KeyMetricsLastRun, value)
}

func (s *BoltStore) AcquireLease(_ context.Context, name, owner string, now time.Time, ttl time.Duration) (bool, error) {
	acquired := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		if data := b.Get([]byte(name)); data != nil {
			var cur lease
			if err := cbor.Unmarshal(data, &cur); err != nil {
				return fmt.Errorf("decode lease %s: %w", name, err)
			}
			if cur.Owner != owner && cur.ExpiresAt > now.UnixMilli() {
				return nil
			}
		}
		data, err := cbor.Marshal(lease{Owner: owner, ExpiresAt: now.Add(ttl).UnixMilli()})
		if err != nil {
			return err
		}
		if err := b.Put([]byte(name), data); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	return acquired, err
}

func (s *BoltStore) ReleaseLease(_ context.Context, name, owner string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		data := b.Get([]byte(name))
		if data == nil {
			return nil
		}
		var cur lease
		if err := cbor.Unmarshal(data, &cur); err != nil {
			return fmt.Errorf("decode lease %s: %w", name, err)
		}
		if cur.Owner != owner {
			return nil
		}
		return b.Delete([]byte(name))
	})
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
