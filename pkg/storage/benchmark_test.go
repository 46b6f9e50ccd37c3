package storage

import (
	"fmt"
	"path/filepath"
	"testing"
)

func benchKV(b *testing.B, preload int) *KV {
	b.Helper()
	db := &KV{Path: filepath.Join(b.TempDir(), "bench.db")}
	if err := db.Open(); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { db.Close() })
	if preload > 0 {
		err := db.Update(func(tx *KVTX) error {
			for i := 0; i < preload; i++ {
				tx.Set(benchKey(i), []byte("payload"))
			}
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
	}
	return db
}

func benchKey(i int) []byte {
	return EncodeKey(1, []Value{NewInt64Value(int64(i)), NewStringValue("model")})
}

func BenchmarkKVSet(b *testing.B) {
	db := benchKV(b, 0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := db.Set(benchKey(i), []byte("payload")); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkKVGet(b *testing.B) {
	const n = 10000
	db := benchKV(b, n)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := db.Get(benchKey(i % n)); !ok {
			b.Fatal("missing key")
		}
	}
}

func BenchmarkKVScan(b *testing.B) {
	for _, width := range []int{10, 100} {
		b.Run(fmt.Sprintf("width=%d", width), func(b *testing.B) {
			db := benchKV(b, 10000)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				seen := 0
				db.Scan(benchKey(i%9000), func(_, _ []byte) bool {
					seen++
					return seen < width
				})
			}
		})
	}
}

func BenchmarkKVBatchCommit(b *testing.B) {
	db := benchKV(b, 0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := db.Update(func(tx *KVTX) error {
			for j := 0; j < 100; j++ {
				tx.Set(benchKey(i*100+j), []byte("payload"))
			}
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEncodeKey(b *testing.B) {
	vals := []Value{NewStringValue("experiment"), NewInt64Value(42), NewFloat64Value(0.93)}
	for i := 0; i < b.N; i++ {
		key := EncodeKey(7, vals)
		if _, err := ExtractValues(key); err != nil {
			b.Fatal(err)
		}
	}
}
