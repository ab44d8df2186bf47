// Package memory holds the in-memory hierarchical node table the
// persistence engine restores into and snapshots from.
package memory

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/cypressdb/cypress-go/internal/core/domain"
	"github.com/cypressdb/cypress-go/internal/storage/aclcache"
	"github.com/cypressdb/cypress-go/pkg/cmap"
)

const rootPath = "/"

// Tree is the hierarchical node table. Point lookups go through a
// sharded map; structural transactions take a writer lock so parent and
// child mutate together.
type Tree struct {
	nodes *cmap.Map[string, *domain.Node]
	acl   *aclcache.Cache

	// mu guards structural changes and the ephemeral index. Readers of
	// single nodes do not take it.
	mu         sync.RWMutex
	ephemerals map[int64]map[string]struct{}

	lastZxid domain.Zxid
}

// NewTree creates a tree holding only the root node.
func NewTree() *Tree {
	t := &Tree{
		nodes:      cmap.New[string, *domain.Node](),
		acl:        aclcache.New(),
		ephemerals: make(map[int64]map[string]struct{}),
	}
	root := &domain.Node{
		ACLID: t.acl.Intern(domain.OpenACLUnsafe),
	}
	t.nodes.Set(rootPath, root)
	return t
}

// ACLCache exposes the interning cache backing this tree.
func (t *Tree) ACLCache() *aclcache.Cache {
	return t.acl
}

// LastProcessedZxid returns the zxid of the last applied transaction.
func (t *Tree) LastProcessedZxid() domain.Zxid {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastZxid
}

// SetLastProcessedZxid seeds the watermark, typically from a snapshot
// name before replay begins.
func (t *Tree) SetLastProcessedZxid(zxid domain.Zxid) {
	t.mu.Lock()
	t.lastZxid = zxid
	t.mu.Unlock()
}

// NodeCount returns the number of nodes including the root.
func (t *Tree) NodeCount() int {
	return t.nodes.Len()
}

// GetNode returns a copy of the node at path.
func (t *Tree) GetNode(path string) (*domain.Node, error) {
	n, ok := t.nodes.Get(path)
	if !ok {
		return nil, domain.ErrNoNode.WithDetails(path)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyNode(n), nil
}

// GetACL resolves the ACL list of the node at path.
func (t *Tree) GetACL(path string) ([]domain.ACL, error) {
	n, ok := t.nodes.Get(path)
	if !ok {
		return nil, domain.ErrNoNode.WithDetails(path)
	}
	t.mu.RLock()
	id := n.ACLID
	t.mu.RUnlock()
	return t.acl.Lookup(id)
}

// GetChildren returns the sorted child names of the node at path.
func (t *Tree) GetChildren(path string) ([]string, error) {
	n, ok := t.nodes.Get(path)
	if !ok {
		return nil, domain.ErrNoNode.WithDetails(path)
	}
	t.mu.RLock()
	children := append([]string(nil), n.Children...)
	t.mu.RUnlock()
	sort.Strings(children)
	return children, nil
}

// Ephemerals returns the paths owned by a session.
func (t *Tree) Ephemerals(sessionID int64) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	paths := make([]string, 0, len(t.ephemerals[sessionID]))
	for p := range t.ephemerals[sessionID] {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ProcessTxn applies one committed transaction. Replay after a fuzzy
// snapshot may deliver transactions whose effect is already present;
// those are reconciled rather than rejected.
func (t *Tree) ProcessTxn(hdr *domain.TxnHeader, txn any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if hdr.Zxid > t.lastZxid {
		t.lastZxid = hdr.Zxid
	}

	switch body := txn.(type) {
	case *domain.CreateTxn:
		return t.createLocked(hdr, body)
	case *domain.DeleteTxn:
		return t.deleteLocked(hdr, body.Path)
	case *domain.SetDataTxn:
		return t.setDataLocked(hdr, body)
	case *domain.SetACLTxn:
		return t.setACLLocked(hdr, body)
	case *domain.CreateSessionTxn:
		return nil
	case *domain.CloseSessionTxn:
		t.killSessionLocked(hdr.ClientID, hdr.Zxid)
		return nil
	case *domain.ErrorTxn:
		return nil
	default:
		return domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("txn type %T", txn))
	}
}

// KillSession removes every ephemeral node owned by sessionID.
func (t *Tree) KillSession(sessionID int64, zxid domain.Zxid) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.killSessionLocked(sessionID, zxid)
}

func (t *Tree) killSessionLocked(sessionID int64, zxid domain.Zxid) {
	owned := make([]string, 0, len(t.ephemerals[sessionID]))
	for p := range t.ephemerals[sessionID] {
		owned = append(owned, p)
	}
	// Deepest first so children go before parents.
	sort.Slice(owned, func(i, j int) bool { return len(owned[i]) > len(owned[j]) })
	for _, p := range owned {
		hdr := &domain.TxnHeader{ClientID: sessionID, Zxid: zxid, Type: domain.OpDelete}
		_ = t.deleteLocked(hdr, p)
	}
	delete(t.ephemerals, sessionID)
}

func (t *Tree) createLocked(hdr *domain.TxnHeader, txn *domain.CreateTxn) error {
	path := txn.Path
	if err := validatePath(path); err != nil {
		return err
	}
	parent, ok := t.nodes.Get(parentPath(path))
	if !ok {
		return domain.ErrNoNode.WithDetails(parentPath(path))
	}

	if existing, ok := t.nodes.Get(path); ok {
		// The snapshot already carried this node but was cut before the
		// ACL slot it points at was rewritten. Re-intern so the slot is
		// live again and the reference is counted.
		old := existing.ACLID
		// Check liveness before interning; the fresh slot may be handed
		// the same id number the dangling reference carried.
		oldLive := t.acl.RefCount(old) >= 0
		newID := t.acl.Intern(txn.ACL)
		existing.ACLID = newID
		if oldLive {
			t.acl.ReleaseUsage(old)
		}
		if txn.ParentCVersion > parent.Stat.Cversion {
			parent.Stat.Cversion = txn.ParentCVersion
			parent.Stat.Pzxid = hdr.Zxid
		}
		return nil
	}

	aclID := t.acl.Intern(txn.ACL)
	node := &domain.Node{
		Data:  txn.Data,
		ACLID: aclID,
		Stat: domain.Stat{
			Czxid: hdr.Zxid,
			Mzxid: hdr.Zxid,
			Pzxid: hdr.Zxid,
			Ctime: hdr.Time,
			Mtime: hdr.Time,
		},
	}
	if txn.Ephemeral {
		node.Stat.EphemeralOwner = hdr.ClientID
		if t.ephemerals[hdr.ClientID] == nil {
			t.ephemerals[hdr.ClientID] = make(map[string]struct{})
		}
		t.ephemerals[hdr.ClientID][path] = struct{}{}
	}
	t.nodes.Set(path, node)

	parent.Children = append(parent.Children, childName(path))
	if txn.ParentCVersion > 0 {
		parent.Stat.Cversion = txn.ParentCVersion
	} else {
		parent.Stat.Cversion++
	}
	parent.Stat.Pzxid = hdr.Zxid
	return nil
}

func (t *Tree) deleteLocked(hdr *domain.TxnHeader, path string) error {
	node, ok := t.nodes.Get(path)
	if !ok {
		return domain.ErrNoNode.WithDetails(path)
	}
	if len(node.Children) > 0 {
		return domain.ErrNotEmpty.WithDetails(path)
	}

	t.nodes.Delete(path)
	t.acl.ReleaseUsage(node.ACLID)

	if owner := node.Stat.EphemeralOwner; owner != 0 {
		if owned := t.ephemerals[owner]; owned != nil {
			delete(owned, path)
			if len(owned) == 0 {
				delete(t.ephemerals, owner)
			}
		}
	}

	if parent, ok := t.nodes.Get(parentPath(path)); ok {
		name := childName(path)
		for i, c := range parent.Children {
			if c == name {
				parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
				break
			}
		}
		parent.Stat.Cversion++
		parent.Stat.Pzxid = hdr.Zxid
	}
	return nil
}

func (t *Tree) setDataLocked(hdr *domain.TxnHeader, txn *domain.SetDataTxn) error {
	node, ok := t.nodes.Get(txn.Path)
	if !ok {
		return domain.ErrNoNode.WithDetails(txn.Path)
	}
	node.Data = txn.Data
	node.Stat.Mzxid = hdr.Zxid
	node.Stat.Mtime = hdr.Time
	node.Stat.Version = txn.Version
	return nil
}

func (t *Tree) setACLLocked(_ *domain.TxnHeader, txn *domain.SetACLTxn) error {
	node, ok := t.nodes.Get(txn.Path)
	if !ok {
		return domain.ErrNoNode.WithDetails(txn.Path)
	}
	newID := t.acl.Intern(txn.ACL)
	old := node.ACLID
	node.ACLID = newID
	t.acl.ReleaseUsage(old)
	node.Stat.Aversion = txn.Version
	return nil
}

// wireNode is the serialized form of one tree entry.
type wireNode struct {
	Path string       `json:"path"`
	Node *domain.Node `json:"node"`
}

// SerializeNodes writes every node as a length-prefixed JSON frame ending
// with a zero-length terminator. The walk is fuzzy: transactions landing
// mid-serialization may or may not be reflected, which replay reconciles.
func (t *Tree) SerializeNodes(w io.Writer) error {
	var err error
	t.nodes.Range(func(path string, n *domain.Node) bool {
		t.mu.RLock()
		frame := wireNode{Path: path, Node: copyNode(n)}
		t.mu.RUnlock()
		err = writeFrame(w, frame)
		return err == nil
	})
	if err != nil {
		return err
	}
	return writeTerminator(w)
}

// SerializeACLs writes the ACL interning table.
func (t *Tree) SerializeACLs(w io.Writer) error {
	return t.acl.Serialize(w)
}

// DeserializeNodes replaces the node table with frames written by
// SerializeNodes and rebuilds the ephemeral index.
func (t *Tree) DeserializeNodes(r io.Reader) error {
	nodes := cmap.New[string, *domain.Node]()
	ephemerals := make(map[int64]map[string]struct{})

	for {
		var wn wireNode
		done, err := readFrame(r, &wn)
		if err != nil {
			return err
		}
		if done {
			break
		}
		nodes.Set(wn.Path, wn.Node)
		if owner := wn.Node.Stat.EphemeralOwner; owner != 0 {
			if ephemerals[owner] == nil {
				ephemerals[owner] = make(map[string]struct{})
			}
			ephemerals[owner][wn.Path] = struct{}{}
		}
	}
	if !nodes.Has(rootPath) {
		return domain.ErrSnapshotIntegrity.WithDetails("node table has no root")
	}

	t.mu.Lock()
	t.nodes = nodes
	t.ephemerals = ephemerals
	t.mu.Unlock()
	return nil
}

// DeserializeACLs replaces the ACL interning table.
func (t *Tree) DeserializeACLs(r io.Reader) error {
	return t.acl.Deserialize(r)
}

func copyNode(n *domain.Node) *domain.Node {
	out := &domain.Node{
		Data:  append([]byte(nil), n.Data...),
		ACLID: n.ACLID,
		Stat:  n.Stat,
	}
	if n.Children != nil {
		out.Children = append([]string(nil), n.Children...)
	}
	return out
}

func validatePath(path string) error {
	if path == "" || path[0] != '/' {
		return domain.ErrBadPath.WithDetails(path)
	}
	if path != rootPath && strings.HasSuffix(path, "/") {
		return domain.ErrBadPath.WithDetails(path)
	}
	if strings.Contains(path, "//") {
		return domain.ErrBadPath.WithDetails(path)
	}
	return nil
}

func parentPath(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx <= 0 {
		return rootPath
	}
	return path[:idx]
}

func childName(path string) string {
	return path[strings.LastIndexByte(path, '/')+1:]
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
