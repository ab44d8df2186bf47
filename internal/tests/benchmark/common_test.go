package benchmark

import (
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/cypressdb/cypress-go/internal/core/domain"
	"github.com/cypressdb/cypress-go/internal/storage/memory"
)

// NodeCounts defines the node table sizes for benchmarking.
var NodeCounts = []int{1000, 10000, 100000}

// createRecord builds a create transaction record for /bench/node-<i>.
func createRecord(zxid domain.Zxid, i int) *domain.TxnRecord {
	return &domain.TxnRecord{
		Header: &domain.TxnHeader{
			ClientID: 1,
			Cxid:     int32(i),
			Zxid:     zxid,
			Time:     time.Now().UnixMilli(),
			Type:     domain.OpCreate,
		},
		Txn: &domain.CreateTxn{
			Path: fmt.Sprintf("/bench/node-%d", i),
			Data: []byte("benchmark-payload-0123456789abcdef"),
			ACL:  domain.OpenACLUnsafe,
		},
	}
}

// prefillTree fills a tree with count nodes under /bench.
func prefillTree(b *testing.B, tree *memory.Tree, count int) {
	b.Helper()
	root := createRecord(1, 0)
	root.Txn.(*domain.CreateTxn).Path = "/bench"
	if err := tree.ProcessTxn(root.Header, root.Txn); err != nil {
		b.Fatalf("create /bench: %v", err)
	}
	for i := 0; i < count; i++ {
		rec := createRecord(domain.Zxid(i+2), i)
		if err := tree.ProcessTxn(rec.Header, rec.Txn); err != nil {
			b.Fatalf("create node %d: %v", i, err)
		}
	}
}

// reportMemory reports heap usage after a forced GC.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
}

// runWithNodeCounts runs a benchmark function with various node counts.
func runWithNodeCounts(b *testing.B, counts []int, benchFn func(b *testing.B, count int)) {
	for _, count := range counts {
		b.Run(fmt.Sprintf("nodes_%d", count), func(b *testing.B) {
			benchFn(b, count)
		})
	}
}
