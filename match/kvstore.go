package match

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/openlibraryenvironment/dcb-service-sub007/errors"
	"github.com/openlibraryenvironment/dcb-service-sub007/natsclient"
	"github.com/openlibraryenvironment/dcb-service-sub007/types"
)

// KV key layout: one document per bib holding its matchpoint rows, plus one
// inverted-index document per matchpoint value holding every row carrying
// that value. The value index is what FindCandidates reads.
const (
	kvBibPrefix   = "bib."
	kvValuePrefix = "val."
)

func bibKey(bibID uuid.UUID) string   { return kvBibPrefix + bibID.String() }
func valueKey(value uuid.UUID) string { return kvValuePrefix + value.String() }

// KVStore persists matchpoints in a NATS JetStream KV bucket. Per-bib
// atomicity comes from CAS on the bib document: a commit re-applies its
// staged delta against the revision it read, retrying on conflict, so two
// concurrent reconciliations of the same bib converge instead of losing
// updates. The value index is maintained best-effort after the bib document;
// a crash between the two writes leaves the index one delta behind until the
// bib is next reconciled.
type KVStore struct {
	kv *natsclient.KVStore
}

// NewKVStore creates a store over the given KV bucket wrapper.
func NewKVStore(kv *natsclient.KVStore) *KVStore {
	return &KVStore{kv: kv}
}

// Begin opens a transaction.
func (s *KVStore) Begin(_ context.Context) (Tx, error) {
	return &kvTx{
		store:   s,
		inserts: make(map[uuid.UUID][]types.MatchPoint),
		deletes: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}, nil
}

type kvTx struct {
	store *KVStore

	mu      sync.Mutex
	inserts map[uuid.UUID][]types.MatchPoint     // bibID -> staged rows
	deletes map[uuid.UUID]map[uuid.UUID]struct{} // bibID -> staged value removals
	closed  bool
}

func (tx *kvTx) loadBib(ctx context.Context, bibID uuid.UUID) ([]types.MatchPoint, error) {
	entry, err := tx.store.kv.Get(ctx, bibKey(bibID))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "kvTx", "loadBib", "read bib document")
	}
	var points []types.MatchPoint
	if err := json.Unmarshal(entry.Value, &points); err != nil {
		return nil, errors.WrapFatal(err, "kvTx", "loadBib", "decode bib document")
	}
	return points, nil
}

func (tx *kvTx) MatchPointsFor(ctx context.Context, bibID uuid.UUID) ([]types.MatchPoint, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return nil, errors.WrapInvalid(errors.ErrTxClosed, "kvTx", "MatchPointsFor", "transaction state check")
	}

	persisted, err := tx.loadBib(ctx, bibID)
	if err != nil {
		return nil, err
	}
	return tx.overlay(bibID, persisted), nil
}

// overlay applies this transaction's staged writes for one bib to its
// persisted rows. Caller holds tx.mu.
func (tx *kvTx) overlay(bibID uuid.UUID, persisted []types.MatchPoint) []types.MatchPoint {
	deleted := tx.deletes[bibID]
	out := make([]types.MatchPoint, 0, len(persisted)+len(tx.inserts[bibID]))
	for _, mp := range persisted {
		if _, gone := deleted[mp.Value]; gone {
			continue
		}
		out = append(out, mp)
	}
	out = append(out, tx.inserts[bibID]...)
	return out
}

func (tx *kvTx) Insert(_ context.Context, points []types.MatchPoint) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return errors.WrapInvalid(errors.ErrTxClosed, "kvTx", "Insert", "transaction state check")
	}

	for _, mp := range points {
		tx.inserts[mp.BibID] = append(tx.inserts[mp.BibID], mp)
		// an insert supersedes a staged delete of the same value
		if deleted, ok := tx.deletes[mp.BibID]; ok {
			delete(deleted, mp.Value)
		}
	}
	return nil
}

func (tx *kvTx) Delete(_ context.Context, bibID uuid.UUID, values []uuid.UUID) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return errors.WrapInvalid(errors.ErrTxClosed, "kvTx", "Delete", "transaction state check")
	}

	deleted := tx.deletes[bibID]
	if deleted == nil {
		deleted = make(map[uuid.UUID]struct{}, len(values))
		tx.deletes[bibID] = deleted
	}
	for _, value := range values {
		deleted[value] = struct{}{}
		// a delete supersedes a staged insert of the same value
		staged := tx.inserts[bibID][:0]
		for _, mp := range tx.inserts[bibID] {
			if mp.Value != value {
				staged = append(staged, mp)
			}
		}
		tx.inserts[bibID] = staged
	}
	return nil
}

func (tx *kvTx) FindCandidates(ctx context.Context, bibID uuid.UUID, values []uuid.UUID) ([]types.MatchPoint, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return nil, errors.WrapInvalid(errors.ErrTxClosed, "kvTx", "FindCandidates", "transaction state check")
	}

	var hits []types.MatchPoint
	for _, value := range values {
		entry, err := tx.store.kv.Get(ctx, valueKey(value))
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				continue
			}
			return nil, errors.WrapTransient(err, "kvTx", "FindCandidates", "read value index")
		}
		var points []types.MatchPoint
		if err := json.Unmarshal(entry.Value, &points); err != nil {
			return nil, errors.WrapFatal(err, "kvTx", "FindCandidates", "decode value index")
		}
		for _, mp := range points {
			if mp.BibID == bibID {
				continue
			}
			if deleted, ok := tx.deletes[mp.BibID]; ok {
				if _, gone := deleted[mp.Value]; gone {
					continue
				}
			}
			hits = append(hits, mp)
		}
	}

	// staged rows from other bibs in this transaction are visible too
	valueSet := make(map[uuid.UUID]struct{}, len(values))
	for _, value := range values {
		valueSet[value] = struct{}{}
	}
	for owner, staged := range tx.inserts {
		if owner == bibID {
			continue
		}
		for _, mp := range staged {
			if _, wanted := valueSet[mp.Value]; wanted {
				hits = append(hits, mp)
			}
		}
	}
	return hits, nil
}

func (tx *kvTx) Commit(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return errors.WrapInvalid(errors.ErrTxClosed, "kvTx", "Commit", "transaction state check")
	}
	tx.closed = true

	for _, bibID := range tx.touchedBibs() {
		if err := tx.commitBib(ctx, bibID); err != nil {
			return err
		}
	}
	return nil
}

func (tx *kvTx) touchedBibs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for bibID := range tx.inserts {
		if _, ok := seen[bibID]; !ok {
			seen[bibID] = struct{}{}
			out = append(out, bibID)
		}
	}
	for bibID := range tx.deletes {
		if _, ok := seen[bibID]; !ok {
			seen[bibID] = struct{}{}
			out = append(out, bibID)
		}
	}
	return out
}

// commitBib applies one bib's staged delta: the bib document first under
// CAS, then the per-value index entries.
func (tx *kvTx) commitBib(ctx context.Context, bibID uuid.UUID) error {
	inserts := tx.inserts[bibID]
	deleted := tx.deletes[bibID]
	if len(inserts) == 0 && len(deleted) == 0 {
		return nil
	}

	err := tx.store.kv.UpdateWithRetry(ctx, bibKey(bibID), func(current []byte) ([]byte, error) {
		var points []types.MatchPoint
		if len(current) > 0 {
			if err := json.Unmarshal(current, &points); err != nil {
				return nil, err
			}
		}

		next := points[:0]
		existing := make(map[uuid.UUID]struct{}, len(points))
		for _, mp := range points {
			if _, gone := deleted[mp.Value]; gone {
				continue
			}
			existing[mp.Value] = struct{}{}
			next = append(next, mp)
		}
		for _, mp := range inserts {
			if _, dup := existing[mp.Value]; dup {
				continue
			}
			existing[mp.Value] = struct{}{}
			next = append(next, mp)
		}
		return json.Marshal(next)
	})
	if err != nil {
		return errors.WrapTransient(err, "kvTx", "Commit", "write bib document")
	}

	// value index maintenance
	for value := range deleted {
		if err := tx.updateValueIndex(ctx, value, bibID, nil); err != nil {
			return err
		}
	}
	for _, mp := range inserts {
		mp := mp
		if err := tx.updateValueIndex(ctx, mp.Value, bibID, &mp); err != nil {
			return err
		}
	}
	return nil
}

// updateValueIndex rewrites one value's index entry: rows owned by bibID are
// removed and, when add is non-nil, the new row is appended.
func (tx *kvTx) updateValueIndex(ctx context.Context, value, bibID uuid.UUID, add *types.MatchPoint) error {
	err := tx.store.kv.UpdateWithRetry(ctx, valueKey(value), func(current []byte) ([]byte, error) {
		var points []types.MatchPoint
		if len(current) > 0 {
			if err := json.Unmarshal(current, &points); err != nil {
				return nil, err
			}
		}

		next := points[:0]
		for _, mp := range points {
			if mp.BibID == bibID {
				continue
			}
			next = append(next, mp)
		}
		if add != nil {
			next = append(next, *add)
		}
		return json.Marshal(next)
	})
	if err != nil {
		return errors.WrapTransient(err, "kvTx", "Commit", "write value index")
	}
	return nil
}

func (tx *kvTx) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	tx.closed = true
	tx.inserts = nil
	tx.deletes = nil
	return nil
}
