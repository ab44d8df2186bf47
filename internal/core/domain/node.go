package domain

// Stat carries the per-node metadata maintained by the tree.
type Stat struct {
	// Czxid is the zxid of the transaction that created the node.
	Czxid Zxid `json:"czxid"`

	// Mzxid is the zxid of the last transaction that modified the node.
	Mzxid Zxid `json:"mzxid"`

	// Ctime and Mtime are Unix milliseconds of creation and last change.
	Ctime int64 `json:"ctime"`
	Mtime int64 `json:"mtime"`

	// Version counts data changes, Cversion child-list changes, Aversion
	// ACL changes.
	Version  int32 `json:"version"`
	Cversion int32 `json:"cversion"`
	Aversion int32 `json:"aversion"`

	// EphemeralOwner is the owning session id, or zero for persistent
	// nodes.
	EphemeralOwner int64 `json:"ephemeral_owner,omitempty"`

	// Pzxid is the zxid of the last transaction that changed the child
	// list.
	Pzxid Zxid `json:"pzxid"`
}

// Node is one entry in the hierarchical tree. ACLID refers into the
// interning cache rather than carrying the ACL list inline.
type Node struct {
	Data     []byte   `json:"data,omitempty"`
	ACLID    int64    `json:"acl_id"`
	Stat     Stat     `json:"stat"`
	Children []string `json:"children,omitempty"`
}
