package controller

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/flowbase/flowbase/pkg/flowtype"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketRecipe  = []byte("recipe")
	bucketOffsets = []byte("offsets")
)

// Store durably persists the controller's recipe history and
// replication offsets, following the teacher's BoltStore shape
// (pkg/storage/boltdb.go): one bucket per concern, db.Update/db.View
// transactions, JSON-marshaled values. The live graph/placement
// themselves are not persisted directly — they are rebuilt at startup
// by replaying the stored recipe statements back through
// pkg/recipe.Compile in order, the same way a real ReadySet/Noria
// deployment treats its recipe as the source of truth and the graph as
// a derived, rebuildable cache of it.
type Store struct {
	db *bolt.DB
}

// NewStore opens (creating if absent) the controller's bbolt file
// under dataDir.
func NewStore(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "controller.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("controller: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketRecipe, bucketOffsets} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("controller: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendStatement durably records ddl as the next entry in recipe
// history, keyed by a monotonically increasing sequence so LoadRecipe
// can replay it back in the order it was applied.
func (s *Store) AppendStatement(seq uint64, ddl string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecipe)
		return b.Put(seqKey(seq), []byte(ddl))
	})
}

// LoadRecipe returns every persisted statement in application order.
func (s *Store) LoadRecipe() ([]string, error) {
	var stmts []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecipe)
		return b.ForEach(func(k, v []byte) error {
			stmts = append(stmts, string(v))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("controller: load recipe: %w", err)
	}
	return stmts, nil
}

// SetOffset persists label's replication offset (e.g. a base table's
// CDC position, or a named upstream source's), for ExtendRecipe's own
// idempotency check on restart.
func (s *Store) SetOffset(label string, offset flowtype.ReplicationOffset) error {
	data, err := json.Marshal(offset)
	if err != nil {
		return fmt.Errorf("controller: marshal offset: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOffsets)
		return b.Put([]byte(label), data)
	})
}

// Offset returns label's last-persisted offset, or the zero offset if
// never set.
func (s *Store) Offset(label string) (flowtype.ReplicationOffset, error) {
	var offset flowtype.ReplicationOffset
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOffsets)
		data := b.Get([]byte(label))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &offset)
	})
	if err != nil {
		return flowtype.ZeroOffset, fmt.Errorf("controller: load offset %q: %w", label, err)
	}
	return offset, nil
}

// Offsets returns every persisted label -> offset pair.
func (s *Store) Offsets() (map[string]flowtype.ReplicationOffset, error) {
	out := make(map[string]flowtype.ReplicationOffset)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOffsets)
		return b.ForEach(func(k, v []byte) error {
			var offset flowtype.ReplicationOffset
			if err := json.Unmarshal(v, &offset); err != nil {
				return err
			}
			out[string(k)] = offset
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("controller: load offsets: %w", err)
	}
	return out, nil
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}
