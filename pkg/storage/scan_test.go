// ABOUTME: Tests for ordered range scans over committed and in-flight state
// ABOUTME: Scans back the store's prefix-ordered indexes, so bounds and direction matter

package storage

import (
	"fmt"
	"path/filepath"
	"slices"
	"testing"
)

func seedRuns(t *testing.T, db *KV, n int) {
	t.Helper()
	err := db.Update(func(tx *KVTX) error {
		for i := 0; i < n; i++ {
			tx.Set([]byte(fmt.Sprintf("run/%03d", i)), []byte(fmt.Sprintf("state-%d", i)))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func scanKeys(r Reader, reverse bool, start string, stop func(string) bool) []string {
	var keys []string
	fn := func(k, _ []byte) bool {
		if stop != nil && stop(string(k)) {
			return false
		}
		keys = append(keys, string(k))
		return true
	}
	if reverse {
		r.ScanReverse([]byte(start), fn)
	} else {
		r.Scan([]byte(start), fn)
	}
	return keys
}

func TestScanBounds(t *testing.T) {
	db := openKV(t, filepath.Join(t.TempDir(), "scan.db"))
	defer db.Close()
	seedRuns(t, db, 30)
	if err := db.Set([]byte("zz/other"), []byte("x")); err != nil {
		t.Fatal(err)
	}

	notRun := func(k string) bool { return k[:4] != "run/" }
	tests := []struct {
		name    string
		reverse bool
		start   string
		stop    func(string) bool
		want    []string
	}{
		{"exact start", false, "run/027", notRun, []string{"run/027", "run/028", "run/029"}},
		{"start between keys", false, "run/0275", notRun, []string{"run/028", "run/029"}},
		{"below every key", false, "a", func(k string) bool { return k > "run/001" }, []string{"run/000", "run/001"}},
		{"past every key", false, "zzz", nil, nil},
		{"reverse from a key", true, "run/002", nil, []string{"run/002", "run/001", "run/000"}},
		{"reverse between keys", true, "run/0015", nil, []string{"run/001", "run/000"}},
		{"reverse below every key", true, "a", nil, nil},
		{"reverse stop at prefix", true, "zzz", notRun, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			_ = db.View(func(r Reader) error {
				got = scanKeys(r, tt.reverse, tt.start, tt.stop)
				return nil
			})
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScanSkipsDeletedKeys(t *testing.T) {
	db := openKV(t, filepath.Join(t.TempDir(), "scan.db"))
	defer db.Close()
	seedRuns(t, db, 400)

	err := db.Update(func(tx *KVTX) error {
		for i := 0; i < 400; i += 2 {
			tx.Del([]byte(fmt.Sprintf("run/%03d", i)))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	db.Scan([]byte("run/"), func(k, _ []byte) bool {
		got = append(got, string(k))
		return true
	})
	if len(got) != 200 {
		t.Fatalf("scan saw %d keys, want 200", len(got))
	}
	for i, k := range got {
		if want := fmt.Sprintf("run/%03d", 2*i+1); k != want {
			t.Fatalf("key %d = %s, want %s", i, k, want)
		}
	}
}

func TestTransactionScanSeesOwnWrites(t *testing.T) {
	db := openKV(t, filepath.Join(t.TempDir(), "scan.db"))
	defer db.Close()
	seedRuns(t, db, 3)

	tx := db.Begin()
	tx.Set([]byte("run/001a"), []byte("new"))
	tx.Del([]byte("run/000"))
	inFlight := scanKeys(tx, false, "run/", nil)
	tx.Abort()

	if want := []string{"run/001", "run/001a", "run/002"}; !slices.Equal(inFlight, want) {
		t.Errorf("in-flight scan = %v, want %v", inFlight, want)
	}

	var committed []string
	_ = db.View(func(r Reader) error {
		committed = scanKeys(r, false, "run/", nil)
		return nil
	})
	if want := []string{"run/000", "run/001", "run/002"}; !slices.Equal(committed, want) {
		t.Errorf("after abort = %v, want %v", committed, want)
	}
}
