package state

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"nftescrow/storage"
)

// Manager mediates every read and write native modules perform against the
// underlying database. Writes are staged in an in-memory overlay and recorded
// in a journal so a failed state transition can be rolled back to a snapshot;
// Commit flushes the overlay to the database in one batch.
//
// Manager is safe for concurrent use, but snapshots are only meaningful when a
// single caller drives a transition at a time.
type Manager struct {
	mu      sync.Mutex
	db      storage.Database
	dirty   map[string][]byte
	journal []journalEntry
}

type journalEntry struct {
	key     string
	prev    []byte
	present bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string][]byte)}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) get(hashed []byte) ([]byte, error) {
	if value, ok := m.dirty[string(hashed)]; ok {
		if value == nil {
			return nil, nil
		}
		return append([]byte(nil), value...), nil
	}
	if m.db == nil {
		return nil, fmt.Errorf("state: database not configured")
	}
	value, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (m *Manager) set(hashed []byte, value []byte) {
	key := string(hashed)
	prev, present := m.dirty[key]
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, present: present})
	if value == nil {
		m.dirty[key] = nil
		return
	}
	m.dirty[key] = append([]byte(nil), value...)
}

// Snapshot returns an identifier for the current journal position.
func (m *Manager) Snapshot() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.journal)
}

// RevertToSnapshot undoes every staged write recorded after the snapshot.
func (m *Manager) RevertToSnapshot(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 {
		id = 0
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.present {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	if id < len(m.journal) {
		m.journal = m.journal[:id]
	}
}

// Commit writes the staged overlay to the database and resets the journal.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.dirty) == 0 {
		m.journal = m.journal[:0]
		return nil
	}
	if m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	if err := m.db.Write(m.dirty); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.dirty = make(map[string][]byte)
	m.journal = m.journal[:0]
	return nil
}

// Discard drops every staged write.
func (m *Manager) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty = make(map[string][]byte)
	m.journal = m.journal[:0]
}

// Pending reports the number of staged keys awaiting commit.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dirty)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is automatically hashed with keccak256.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(kvKey(key), encoded)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	m.mu.Lock()
	data, err := m.get(kvKey(key))
	m.mu.Unlock()
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under the supplied key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(kvKey(key), nil)
	return nil
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	ok, err := m.KVGet(key, out)
	if err != nil {
		return err
	}
	if !ok {
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	}
	return nil
}

func (m *Manager) loadBigInt(key []byte) (*big.Int, error) {
	value := new(big.Int)
	ok, err := m.KVGet(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (m *Manager) writeBigInt(key []byte, value *big.Int) error {
	if value == nil {
		value = big.NewInt(0)
	}
	if value.Sign() < 0 {
		return fmt.Errorf("state: negative value not allowed")
	}
	return m.KVPut(key, value)
}
