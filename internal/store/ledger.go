package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Schema (bbolt bucket layout):
//
//	/attempts
//	    key:   RFC3339Nano timestamp + "_" + ticket_id  [sortable]
//	    value: JSON-encoded AttemptEntry
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
const (
	LedgerSchemaVersion = "1"

	bucketAttempts = "attempts"
	bucketMeta     = "meta"
)

// AttemptEntry is one row of the append-only remediation audit ledger:
// every playbook attempt, whether it auto-executed or ran after server
// approval, with its outcome.
type AttemptEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	TicketID    string    `json:"ticket_id"`
	SignatureID string    `json:"signature_id"`
	RunbookID   string    `json:"runbook_id"`
	ResourceID  string    `json:"resource_id"`
	Decision    string    `json:"decision"`
	Succeeded   bool      `json:"succeeded"`
	Confidence  float64   `json:"confidence"`
	Source      string    `json:"source"`
}

// Ledger wraps a bbolt database holding the append-only attempt history.
type Ledger struct {
	db            *bolt.DB
	retentionDays int
}

// OpenLedger opens (or creates) the bbolt ledger at path, initializing
// its buckets and schema version. retentionDays <= 0 uses a 90-day
// default, matching the remediation-memory attempt retention window.
func OpenLedger(path string, retentionDays int) (*Ledger, error) {
	if retentionDays <= 0 {
		retentionDays = 90
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	l := &Ledger{db: bdb, retentionDays: retentionDays}

	if err := l.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketAttempts, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(LedgerSchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		bdb.Close()
		return nil, fmt.Errorf("ledger init: %w", err)
	}

	return l, nil
}

// Close closes the underlying bbolt file.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func attemptKey(t time.Time, ticketID string) []byte {
	return []byte(fmt.Sprintf("%s_%s", t.UTC().Format(time.RFC3339Nano), ticketID))
}

// Append writes one attempt entry to the ledger.
func (l *Ledger) Append(entry AttemptEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal attempt entry: %w", err)
	}
	key := attemptKey(entry.Timestamp, entry.TicketID)
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketAttempts)).Put(key, data)
	})
}

// Prune deletes attempt entries older than the configured retention
// window. Called once on startup; no periodic task runs it.
func (l *Ledger) Prune() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -l.retentionDays)
	cutoffKey := attemptKey(cutoff, "")

	var deleted int
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketAttempts))
		c := b.Cursor()

		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if string(k) >= string(cutoffKey) {
				break
			}
			keyCopy := make([]byte, len(k))
			copy(keyCopy, k)
			toDelete = append(toDelete, keyCopy)
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("delete attempt entry: %w", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// Recent returns up to limit attempt entries for a signal_key or
// resource_id, most recent first. limit <= 0 returns all matches.
// Remediation memory does not read the ledger; it keeps its own
// statistics in remediation-memory.json.
func (l *Ledger) Recent(matches func(AttemptEntry) bool, limit int) ([]AttemptEntry, error) {
	var all []AttemptEntry
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketAttempts))
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var entry AttemptEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshal attempt entry: %w", err)
			}
			if matches == nil || matches(entry) {
				all = append(all, entry)
				if limit > 0 && len(all) >= limit {
					break
				}
			}
		}
		return nil
	})
	return all, err
}
