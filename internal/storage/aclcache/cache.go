// Package aclcache interns ACL lists behind small int64 ids so that the
// node table and the snapshot format never carry duplicate ACL payloads.
// Entries are reference counted by the nodes pointing at them; slots that
// drop to zero references are reclaimed when the cache is serialized.
package aclcache

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cypressdb/cypress-go/internal/core/domain"
	"github.com/cypressdb/cypress-go/pkg/cmap"
)

// purgedRefs marks an entry claimed by the serialize-time purge. An
// in-flight fast-path increment on such an entry lands far below 1 and
// retries through the slow path instead of resurrecting the slot.
const purgedRefs = math.MinInt64 / 2

type entry struct {
	id  int64
	sig string
	acl []domain.ACL

	refs atomic.Int64
}

// Cache is the interning table. Safe for concurrent use; Serialize may
// run while other goroutines intern and release.
type Cache struct {
	byID  *cmap.Map[int64, *entry]
	bySig *cmap.Map[string, *entry]

	// mu serializes slot creation, purging and (de)serialization.
	mu     sync.Mutex
	nextID int64
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		byID:  cmap.New[int64, *entry](),
		bySig: cmap.New[string, *entry](),
	}
}

// Intern returns the id for acl, assigning a fresh one when the list has
// not been seen, and counts one reference against it.
func (c *Cache) Intern(acl []domain.ACL) int64 {
	sig := domain.ACLSignature(acl)

	if e, ok := c.bySig.Get(sig); ok {
		if e.refs.Add(1) >= 2 {
			return e.id
		}
		// Raced with a purge or landed on a zero-ref slot; settle under
		// the lock.
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.bySig.Get(sig); ok {
		if e.refs.Load() < 0 {
			e.refs.Store(1)
		}
		return e.id
	}

	c.nextID++
	e := &entry{
		id:  c.nextID,
		sig: sig,
		acl: append([]domain.ACL(nil), acl...),
	}
	e.refs.Store(1)
	c.byID.Set(e.id, e)
	c.bySig.Set(sig, e)
	return e.id
}

// Lookup resolves an id to its ACL list.
func (c *Cache) Lookup(id int64) ([]domain.ACL, error) {
	e, ok := c.byID.Get(id)
	if !ok {
		return nil, domain.ErrNoACL.WithDetails(fmt.Sprintf("id %d", id))
	}
	return append([]domain.ACL(nil), e.acl...), nil
}

// AddUsage counts one more reference against id. A dangling id is a
// no-op; during fuzzy snapshot replay references can legitimately arrive
// for slots the snapshot never carried.
func (c *Cache) AddUsage(id int64) {
	e, ok := c.byID.Get(id)
	if !ok {
		return
	}
	if e.refs.Add(1) < 1 {
		e.refs.Add(-1)
	}
}

// ReleaseUsage drops one reference from id. Counts never go below zero
// and a dangling id is a no-op.
func (c *Cache) ReleaseUsage(id int64) {
	e, ok := c.byID.Get(id)
	if !ok {
		return
	}
	for {
		cur := e.refs.Load()
		if cur <= 0 {
			return
		}
		if e.refs.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// RefCount reports the current reference count for id, or -1 for a
// dangling id.
func (c *Cache) RefCount(id int64) int64 {
	e, ok := c.byID.Get(id)
	if !ok {
		return -1
	}
	if refs := e.refs.Load(); refs > 0 {
		return refs
	}
	return 0
}

// Size returns the number of interned entries, zero-ref slots included.
func (c *Cache) Size() int {
	return c.byID.Len()
}

// wireEntry is the serialized form of one cache slot.
type wireEntry struct {
	ID   int64        `json:"id"`
	ACL  []domain.ACL `json:"acl"`
	Refs int64        `json:"refs"`
}

// Serialize purges zero-reference slots and writes the survivors as
// length-prefixed JSON frames ending with a zero-length terminator.
// Concurrent interns of already-present lists proceed while this runs;
// the output is a fuzzy but internally consistent view.
func (c *Cache) Serialize(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeUnusedLocked()

	var err error
	c.byID.Range(func(_ int64, e *entry) bool {
		refs := e.refs.Load()
		if refs < 0 {
			return true
		}
		err = writeFrame(w, wireEntry{ID: e.id, ACL: e.acl, Refs: refs})
		return err == nil
	})
	if err != nil {
		return err
	}
	return writeTerminator(w)
}

// purgeUnusedLocked reclaims slots nothing references. Claiming is done
// through a CAS so a racing fast-path intern either wins the slot back
// or observes the purge marker and retries.
func (c *Cache) purgeUnusedLocked() {
	var dead []*entry
	c.byID.Range(func(_ int64, e *entry) bool {
		if e.refs.CompareAndSwap(0, purgedRefs) {
			dead = append(dead, e)
		}
		return true
	})
	for _, e := range dead {
		c.byID.Delete(e.id)
		c.bySig.Delete(e.sig)
	}
}

// Deserialize replaces the cache contents with the frames written by
// Serialize.
func (c *Cache) Deserialize(r io.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	byID := cmap.New[int64, *entry]()
	bySig := cmap.New[string, *entry]()
	var maxID int64

	for {
		var we wireEntry
		done, err := readFrame(r, &we)
		if err != nil {
			return err
		}
		if done {
			break
		}
		e := &entry{
			id:  we.ID,
			sig: domain.ACLSignature(we.ACL),
			acl: we.ACL,
		}
		e.refs.Store(we.Refs)
		byID.Set(e.id, e)
		bySig.Set(e.sig, e)
		if we.ID > maxID {
			maxID = we.ID
		}
	}

	c.byID = byID
	c.bySig = bySig
	c.nextID = maxID
	return nil
}

func writeFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func writeTerminator(w io.Writer) error {
	var lenBuf [4]byte
	_, err := w.Write(lenBuf[:])
	return err
}

// readFrame reads one frame into v, returning done=true at the
// terminator.
func readFrame(r io.Reader, v any) (done bool, err error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return false, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return true, nil
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return false, err
	}
	return false, json.Unmarshal(data, v)
}
