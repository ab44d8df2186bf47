package domain

import (
	"sort"
	"strconv"
	"strings"
)

// Permission bits for ACL entries.
const (
	PermRead   int32 = 1 << 0
	PermWrite  int32 = 1 << 1
	PermCreate int32 = 1 << 2
	PermDelete int32 = 1 << 3
	PermAdmin  int32 = 1 << 4
	PermAll          = PermRead | PermWrite | PermCreate | PermDelete | PermAdmin
)

// ACL grants a set of permissions to an identity within an auth scheme.
type ACL struct {
	Perms  int32  `json:"perms"`
	Scheme string `json:"scheme"`
	ID     string `json:"id"`
}

// OpenACLUnsafe grants everything to everyone.
var OpenACLUnsafe = []ACL{{Perms: PermAll, Scheme: "world", ID: "anyone"}}

// ReadACLUnsafe grants read to everyone.
var ReadACLUnsafe = []ACL{{Perms: PermRead, Scheme: "world", ID: "anyone"}}

// ACLSignature returns a canonical string for an ACL list so that lists
// differing only in entry order intern to the same cache slot. Entries are
// sorted by scheme, then id, then perms.
func ACLSignature(acl []ACL) string {
	if len(acl) == 0 {
		return ""
	}
	sorted := make([]ACL, len(acl))
	copy(sorted, acl)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Scheme != b.Scheme {
			return a.Scheme < b.Scheme
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Perms < b.Perms
	})

	var sb strings.Builder
	for _, e := range sorted {
		sb.WriteString(e.Scheme)
		sb.WriteByte(':')
		sb.WriteString(e.ID)
		sb.WriteByte(':')
		sb.WriteString(strconv.FormatInt(int64(e.Perms), 10))
		sb.WriteByte(';')
	}
	return sb.String()
}
