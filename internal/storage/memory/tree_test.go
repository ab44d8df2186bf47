package memory

import (
	"bytes"
	"errors"
	"testing"

	"github.com/cypressdb/cypress-go/internal/core/domain"
)

func hdr(zxid domain.Zxid, op domain.OpCode) *domain.TxnHeader {
	return &domain.TxnHeader{
		ClientID: 0xABCD,
		Cxid:     int32(zxid),
		Zxid:     zxid,
		Time:     1700000000000 + int64(zxid),
		Type:     op,
	}
}

func mustCreate(t *testing.T, tree *Tree, zxid domain.Zxid, path string, data []byte) {
	t.Helper()
	err := tree.ProcessTxn(hdr(zxid, domain.OpCreate), &domain.CreateTxn{
		Path: path,
		Data: data,
		ACL:  domain.OpenACLUnsafe,
	})
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
}

func TestCreateAndGet(t *testing.T) {
	tree := NewTree()
	mustCreate(t, tree, 1, "/app", []byte("v1"))
	mustCreate(t, tree, 2, "/app/cfg", []byte("v2"))

	node, err := tree.GetNode("/app/cfg")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if string(node.Data) != "v2" {
		t.Fatalf("data = %q, want v2", node.Data)
	}
	if node.Stat.Czxid != 2 || node.Stat.Mzxid != 2 {
		t.Fatalf("stat zxids = %#x/%#x, want 2/2", node.Stat.Czxid, node.Stat.Mzxid)
	}

	parent, err := tree.GetNode("/app")
	if err != nil {
		t.Fatalf("GetNode(/app): %v", err)
	}
	if parent.Stat.Cversion != 1 || parent.Stat.Pzxid != 2 {
		t.Fatalf("parent cversion/pzxid = %d/%#x, want 1/2", parent.Stat.Cversion, parent.Stat.Pzxid)
	}

	children, err := tree.GetChildren("/app")
	if err != nil || len(children) != 1 || children[0] != "cfg" {
		t.Fatalf("GetChildren = %v, %v", children, err)
	}
	if tree.NodeCount() != 3 {
		t.Fatalf("NodeCount = %d, want 3", tree.NodeCount())
	}
	if got := tree.LastProcessedZxid(); got != 2 {
		t.Fatalf("LastProcessedZxid = %#x, want 2", got)
	}
}

func TestCreateMissingParent(t *testing.T) {
	tree := NewTree()
	err := tree.ProcessTxn(hdr(1, domain.OpCreate), &domain.CreateTxn{
		Path: "/a/b",
		ACL:  domain.OpenACLUnsafe,
	})
	if !errors.Is(err, domain.ErrNoNode) {
		t.Fatalf("err = %v, want ErrNoNode", err)
	}
}

func TestBadPaths(t *testing.T) {
	tree := NewTree()
	for _, p := range []string{"", "relative", "/a/", "/a//b"} {
		err := tree.ProcessTxn(hdr(1, domain.OpCreate), &domain.CreateTxn{Path: p, ACL: domain.OpenACLUnsafe})
		if !errors.Is(err, domain.ErrBadPath) {
			t.Fatalf("create %q err = %v, want ErrBadPath", p, err)
		}
	}
}

func TestDelete(t *testing.T) {
	tree := NewTree()
	mustCreate(t, tree, 1, "/a", nil)
	mustCreate(t, tree, 2, "/a/b", nil)

	err := tree.ProcessTxn(hdr(3, domain.OpDelete), &domain.DeleteTxn{Path: "/a"})
	if !errors.Is(err, domain.ErrNotEmpty) {
		t.Fatalf("delete of non-empty node err = %v, want ErrNotEmpty", err)
	}

	if err := tree.ProcessTxn(hdr(4, domain.OpDelete), &domain.DeleteTxn{Path: "/a/b"}); err != nil {
		t.Fatalf("delete /a/b: %v", err)
	}
	if _, err := tree.GetNode("/a/b"); !errors.Is(err, domain.ErrNoNode) {
		t.Fatalf("GetNode after delete err = %v, want ErrNoNode", err)
	}

	parent, _ := tree.GetNode("/a")
	if len(parent.Children) != 0 || parent.Stat.Pzxid != 4 {
		t.Fatalf("parent children/pzxid = %v/%#x after delete", parent.Children, parent.Stat.Pzxid)
	}
}

func TestDeleteReleasesACL(t *testing.T) {
	tree := NewTree()
	acl := []domain.ACL{{Perms: domain.PermAll, Scheme: "digest", ID: "bob:y"}}
	if err := tree.ProcessTxn(hdr(1, domain.OpCreate), &domain.CreateTxn{Path: "/n", ACL: acl}); err != nil {
		t.Fatalf("create: %v", err)
	}
	node, _ := tree.GetNode("/n")
	if got := tree.ACLCache().RefCount(node.ACLID); got != 1 {
		t.Fatalf("RefCount = %d, want 1", got)
	}

	if err := tree.ProcessTxn(hdr(2, domain.OpDelete), &domain.DeleteTxn{Path: "/n"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := tree.ACLCache().RefCount(node.ACLID); got != 0 {
		t.Fatalf("RefCount after delete = %d, want 0", got)
	}
}

func TestSetDataAndSetACL(t *testing.T) {
	tree := NewTree()
	mustCreate(t, tree, 1, "/n", []byte("old"))

	if err := tree.ProcessTxn(hdr(2, domain.OpSetData), &domain.SetDataTxn{
		Path: "/n", Data: []byte("new"), Version: 1,
	}); err != nil {
		t.Fatalf("setData: %v", err)
	}
	node, _ := tree.GetNode("/n")
	if string(node.Data) != "new" || node.Stat.Version != 1 || node.Stat.Mzxid != 2 {
		t.Fatalf("node after setData = %q v%d m%#x", node.Data, node.Stat.Version, node.Stat.Mzxid)
	}

	acl := []domain.ACL{{Perms: domain.PermRead, Scheme: "world", ID: "anyone"}}
	if err := tree.ProcessTxn(hdr(3, domain.OpSetACL), &domain.SetACLTxn{
		Path: "/n", ACL: acl, Version: 1,
	}); err != nil {
		t.Fatalf("setACL: %v", err)
	}
	got, err := tree.GetACL("/n")
	if err != nil || len(got) != 1 || got[0] != acl[0] {
		t.Fatalf("GetACL = %v, %v", got, err)
	}
	node, _ = tree.GetNode("/n")
	if node.Stat.Aversion != 1 {
		t.Fatalf("Aversion = %d, want 1", node.Stat.Aversion)
	}
}

func TestEphemeralsAndKillSession(t *testing.T) {
	tree := NewTree()
	session := int64(0x5E55)

	for i, path := range []string{"/e1", "/e2"} {
		h := hdr(domain.Zxid(i+1), domain.OpCreate)
		h.ClientID = session
		if err := tree.ProcessTxn(h, &domain.CreateTxn{
			Path: path, ACL: domain.OpenACLUnsafe, Ephemeral: true,
		}); err != nil {
			t.Fatalf("create %s: %v", path, err)
		}
	}
	mustCreate(t, tree, 3, "/persistent", nil)

	if got := tree.Ephemerals(session); len(got) != 2 {
		t.Fatalf("Ephemerals = %v, want 2 paths", got)
	}

	h := hdr(4, domain.OpCloseSession)
	h.ClientID = session
	if err := tree.ProcessTxn(h, &domain.CloseSessionTxn{}); err != nil {
		t.Fatalf("closeSession: %v", err)
	}

	for _, path := range []string{"/e1", "/e2"} {
		if _, err := tree.GetNode(path); !errors.Is(err, domain.ErrNoNode) {
			t.Fatalf("%s should be gone after session close", path)
		}
	}
	if _, err := tree.GetNode("/persistent"); err != nil {
		t.Fatalf("persistent node should survive: %v", err)
	}
	if got := tree.Ephemerals(session); len(got) != 0 {
		t.Fatalf("Ephemerals after kill = %v, want none", got)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	tree := NewTree()
	mustCreate(t, tree, 1, "/a", []byte("x"))
	mustCreate(t, tree, 2, "/a/b", []byte("y"))
	h := hdr(3, domain.OpCreate)
	h.ClientID = 0x77
	if err := tree.ProcessTxn(h, &domain.CreateTxn{Path: "/e", ACL: domain.OpenACLUnsafe, Ephemeral: true}); err != nil {
		t.Fatalf("create /e: %v", err)
	}

	var acls, nodes bytes.Buffer
	if err := tree.SerializeACLs(&acls); err != nil {
		t.Fatalf("SerializeACLs: %v", err)
	}
	if err := tree.SerializeNodes(&nodes); err != nil {
		t.Fatalf("SerializeNodes: %v", err)
	}

	restored := NewTree()
	if err := restored.DeserializeACLs(&acls); err != nil {
		t.Fatalf("DeserializeACLs: %v", err)
	}
	if err := restored.DeserializeNodes(&nodes); err != nil {
		t.Fatalf("DeserializeNodes: %v", err)
	}

	if restored.NodeCount() != tree.NodeCount() {
		t.Fatalf("NodeCount = %d, want %d", restored.NodeCount(), tree.NodeCount())
	}
	node, err := restored.GetNode("/a/b")
	if err != nil || string(node.Data) != "y" {
		t.Fatalf("GetNode(/a/b) = %v, %v", node, err)
	}
	if got, err := restored.GetACL("/a"); err != nil || len(got) != 1 {
		t.Fatalf("GetACL(/a) = %v, %v", got, err)
	}
	if got := restored.Ephemerals(0x77); len(got) != 1 || got[0] != "/e" {
		t.Fatalf("Ephemerals = %v, want [/e]", got)
	}
}

func TestReplayCreateOnExistingNodeReinternsACL(t *testing.T) {
	// Serialize the ACL table before the create lands, the node table
	// after. The restored tree then holds a node whose ACL id is not in
	// the table until the create is replayed.
	tree := NewTree()
	mustCreate(t, tree, 1, "/app", nil)

	var acls bytes.Buffer
	if err := tree.SerializeACLs(&acls); err != nil {
		t.Fatalf("SerializeACLs: %v", err)
	}

	acl := []domain.ACL{{Perms: domain.PermAll, Scheme: "digest", ID: "carol:z"}}
	createHdr := hdr(2, domain.OpCreate)
	create := &domain.CreateTxn{Path: "/app/node", ACL: acl, ParentCVersion: 2}
	if err := tree.ProcessTxn(createHdr, create); err != nil {
		t.Fatalf("create: %v", err)
	}

	var nodes bytes.Buffer
	if err := tree.SerializeNodes(&nodes); err != nil {
		t.Fatalf("SerializeNodes: %v", err)
	}

	restored := NewTree()
	if err := restored.DeserializeACLs(&acls); err != nil {
		t.Fatalf("DeserializeACLs: %v", err)
	}
	if err := restored.DeserializeNodes(&nodes); err != nil {
		t.Fatalf("DeserializeNodes: %v", err)
	}

	// The node came through the snapshot with a dangling ACL id.
	if _, err := restored.GetACL("/app/node"); !errors.Is(err, domain.ErrNoACL) {
		t.Fatalf("GetACL before replay err = %v, want ErrNoACL", err)
	}

	// Replaying the same create must reconcile, not fail.
	if err := restored.ProcessTxn(createHdr, create); err != nil {
		t.Fatalf("replayed create: %v", err)
	}
	got, err := restored.GetACL("/app/node")
	if err != nil {
		t.Fatalf("GetACL after replay: %v", err)
	}
	if len(got) != 1 || got[0] != acl[0] {
		t.Fatalf("GetACL = %v, want %v", got, acl)
	}

	// Both trees resolve the same ACL for the node.
	orig, err := tree.GetACL("/app/node")
	if err != nil || len(orig) != 1 || orig[0] != got[0] {
		t.Fatalf("trees diverged: %v vs %v (%v)", orig, got, err)
	}
}

func TestReplayDeleteMissingNode(t *testing.T) {
	tree := NewTree()
	err := tree.ProcessTxn(hdr(1, domain.OpDelete), &domain.DeleteTxn{Path: "/gone"})
	if !errors.Is(err, domain.ErrNoNode) {
		t.Fatalf("err = %v, want ErrNoNode", err)
	}
}
