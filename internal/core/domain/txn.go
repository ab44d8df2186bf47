package domain

import "fmt"

// Zxid is the 64-bit transaction identifier: the high 32 bits carry the
// leader epoch, the low 32 bits a counter within that epoch. Zxids are
// totally ordered across all transactions and name both log segments and
// snapshot watermarks.
type Zxid = int64

// ZxidEpoch extracts the epoch half of a zxid.
func ZxidEpoch(zxid Zxid) int32 {
	return int32(zxid >> 32)
}

// ZxidCounter extracts the counter half of a zxid.
func ZxidCounter(zxid Zxid) int32 {
	return int32(zxid & 0xffffffff)
}

// MakeZxid combines an epoch and a counter into a zxid.
func MakeZxid(epoch, counter int32) Zxid {
	return int64(epoch)<<32 | int64(uint32(counter))
}

// OpCode identifies the operation a transaction carries.
type OpCode int32

const (
	OpError        OpCode = -1
	OpCreate       OpCode = 1
	OpDelete       OpCode = 2
	OpSetData      OpCode = 5
	OpSetACL       OpCode = 7
	OpCreateSession OpCode = -10
	OpCloseSession  OpCode = -11
)

// String returns the lowercase operation name.
func (op OpCode) String() string {
	switch op {
	case OpError:
		return "error"
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	case OpSetData:
		return "setData"
	case OpSetACL:
		return "setACL"
	case OpCreateSession:
		return "createSession"
	case OpCloseSession:
		return "closeSession"
	default:
		return fmt.Sprintf("op(%d)", int32(op))
	}
}

// TxnHeader precedes every transaction payload. Immutable once written.
type TxnHeader struct {
	// ClientID is the session that issued the operation.
	ClientID int64 `json:"client_id"`

	// Cxid is the client-assigned transaction id within the session.
	Cxid int32 `json:"cxid"`

	// Zxid orders this transaction against every other one.
	Zxid Zxid `json:"zxid"`

	// Time is the commit wall-clock time in Unix milliseconds.
	Time int64 `json:"time"`

	// Type selects the payload type.
	Type OpCode `json:"type"`
}

// CreateTxn creates a node.
type CreateTxn struct {
	Path           string `json:"path"`
	Data           []byte `json:"data,omitempty"`
	ACL            []ACL  `json:"acl,omitempty"`
	Ephemeral      bool   `json:"ephemeral,omitempty"`
	ParentCVersion int32  `json:"parent_cversion"`
}

// DeleteTxn removes a node.
type DeleteTxn struct {
	Path string `json:"path"`
}

// SetDataTxn replaces a node's data.
type SetDataTxn struct {
	Path    string `json:"path"`
	Data    []byte `json:"data,omitempty"`
	Version int32  `json:"version"`
}

// SetACLTxn replaces a node's ACL.
type SetACLTxn struct {
	Path    string `json:"path"`
	ACL     []ACL  `json:"acl,omitempty"`
	Version int32  `json:"version"`
}

// CreateSessionTxn opens a session with a negotiated timeout.
type CreateSessionTxn struct {
	TimeoutMs int32 `json:"timeout_ms"`
}

// CloseSessionTxn closes a session; its ephemeral nodes are removed.
type CloseSessionTxn struct{}

// ErrorTxn records an operation that failed upstream but still consumed
// a zxid.
type ErrorTxn struct {
	Err int32 `json:"err"`
}

// TxnRecord pairs a header with its decoded payload. Txn is one of the
// payload structs above, selected by Header.Type.
type TxnRecord struct {
	Header *TxnHeader
	Txn    any
}
