// ABOUTME: Chunked values for records larger than a B+Tree value slot
// ABOUTME: A blob is stored as consecutive (key..., chunk) entries

package storage

// BLOB_CHUNK_SIZE keeps each chunk well under the B+Tree value limit
const BLOB_CHUNK_SIZE = 2048

func blobKey(prefix uint32, vals []Value, chunk int) []byte {
	key := EncodeKey(prefix, vals)
	return AppendValue(key, NewUint64Value(uint64(chunk)))
}

// PutBlob stores data under the composite key, replacing any previous blob
func PutBlob(tx *KVTX, prefix uint32, vals []Value, data []byte) {
	n := 0
	for off := 0; off < len(data) || n == 0; off += BLOB_CHUNK_SIZE {
		end := min(off+BLOB_CHUNK_SIZE, len(data))
		tx.Set(blobKey(prefix, vals, n), data[off:end])
		n++
	}

	// Drop the tail of a previously longer blob
	for i := n; tx.Del(blobKey(prefix, vals, i)); i++ {
	}
}

// GetBlob reassembles a blob. The returned slice is owned by the caller.
func GetBlob(r Reader, prefix uint32, vals []Value) ([]byte, bool) {
	var out []byte
	for i := 0; ; i++ {
		chunk, ok := r.Get(blobKey(prefix, vals, i))
		if !ok {
			if i == 0 {
				return nil, false
			}
			return out, true
		}
		out = append(out, chunk...)
	}
}

// DelBlob removes every chunk of a blob
func DelBlob(tx *KVTX, prefix uint32, vals []Value) bool {
	deleted := false
	for i := 0; tx.Del(blobKey(prefix, vals, i)); i++ {
		deleted = true
	}
	return deleted
}
