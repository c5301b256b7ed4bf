// Package history keeps a ledger of detection runs so operators can see when
// the trail was last scanned and what each run found.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bRuns = []byte("runs")

// Run is the ledger entry for one detection run.
type Run struct {
	ID            string         `json:"id"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Mode          string         `json:"mode"`
	Window        string         `json:"window,omitempty"`
	Regions       []string       `json:"regions,omitempty"`
	Files         int            `json:"files"`
	Records       int            `json:"records"`
	Hits          int            `json:"hits"`
	FetchFailures int            `json:"fetch_failures"`
	ParseFailures int            `json:"parse_failures"`
	RuleHits      map[string]int `json:"rule_hits,omitempty"`
	Artifact      string         `json:"artifact,omitempty"`
	Partial       bool           `json:"partial"`
}

// Backend defines the storage interface for run entries.
type Backend interface {
	Append(r Run) error
	// Load returns up to n entries, newest first. n <= 0 means all.
	Load(n int) ([]Run, error)
	Close() error
}

// Client manages the run ledger.
type Client struct {
	backend Backend
}

// NewClient initializes a history client.
func NewClient(backend Backend) *Client {
	return &Client{backend: backend}
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Append records a run, assigning an ID when it has none.
func (c *Client) Append(r Run) (Run, error) {
	if r.ID == "" {
		r.ID = NewRunID()
	}
	if err := c.backend.Append(r); err != nil {
		return r, fmt.Errorf("record run %s: %w", r.ID, err)
	}
	return r, nil
}

// LoadWindow retrieves the n most recent runs.
func (c *Client) LoadWindow(n int) ([]Run, error) {
	return c.backend.Load(n)
}

// Close releases the backend.
func (c *Client) Close() error {
	return c.backend.Close()
}

// BoltBackend stores runs in a bbolt file keyed by start time and ID, so a
// cursor walk yields chronological order.
type BoltBackend struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the ledger at path.
func OpenBolt(path string) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bRuns)
		return e
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltBackend{db: db}, nil
}

func runKey(r Run) []byte {
	return []byte(r.StartedAt.UTC().Format("20060102T150405.000000000Z") + ":" + r.ID)
}

func (b *BoltBackend) Append(r Run) error {
	if r.ID == "" {
		return errors.New("run has no id")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bRuns).Put(runKey(r), data)
	})
}

func (b *BoltBackend) Load(n int) ([]Run, error) {
	out := []Run{}
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bRuns).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r Run
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			out = append(out, r)
			if n > 0 && len(out) >= n {
				break
			}
		}
		return nil
	})
	return out, err
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}

// GetLedgerPath provides the default local storage path.
func GetLedgerPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".awsnare", "history.db"), nil
}
