package migrate

import (
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"
)

// persist writes e to the durable bucket keyed by key. The on-disk record
// is nonce || expiry_unix_nano || sealed, so a restarted process can
// reconstruct the entry without re-deriving anything beyond its own
// master secret.
func (r *Registry) persist(key string, e entry) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(r.bucket)
		rec := make([]byte, 24+8+len(e.sealed))
		copy(rec[:24], e.nonce[:])
		binary.LittleEndian.PutUint64(rec[24:32], uint64(e.expiry.UnixNano()))
		copy(rec[32:], e.sealed)
		return b.Put([]byte(key), rec)
	})
}

func (r *Registry) deletePersisted(key string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(r.bucket).Delete([]byte(key))
	})
}

// loadAndDelete reads and atomically removes a durable record, used when
// the in-memory map has no entry (e.g. after a restart).
func (r *Registry) loadAndDelete(key string) (entry, bool, error) {
	var e entry
	found := false
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(r.bucket)
		rec := b.Get([]byte(key))
		if rec == nil {
			return nil
		}
		if len(rec) < 32 {
			return nil
		}
		copy(e.nonce[:], rec[:24])
		e.expiry = time.Unix(0, int64(binary.LittleEndian.Uint64(rec[24:32])))
		e.sealed = append([]byte(nil), rec[32:]...)
		found = true
		return b.Delete([]byte(key))
	})
	return e, found, err
}
