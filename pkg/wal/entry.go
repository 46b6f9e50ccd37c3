package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// OpType tags what an entry records.
type OpType byte

const (
	OpInsert     OpType = 1 // key/value written by a transaction
	OpDelete     OpType = 2 // key removed by a transaction
	OpCommit     OpType = 3 // transaction is durable
	OpCheckpoint OpType = 4 // page file holds everything before this LSN
	OpAbort      OpType = 5 // cancels a commit whose page update failed
)

var opNames = map[OpType]string{
	OpInsert:     "INSERT",
	OpDelete:     "DELETE",
	OpCommit:     "COMMIT",
	OpCheckpoint: "CHECKPOINT",
	OpAbort:      "ABORT",
}

func (op OpType) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("OpType(%d)", byte(op))
}

// On-disk entry:
//
//	lsn u64 | txn u64 | op u8 | pad 7B | klen u32 | vlen u32 | unix ms i64 | key | value | crc32
//
// All integers are little endian; the checksum covers every preceding byte.
const (
	EntryHeaderSize = 40
	crcSize         = 4

	offLSN    = 0
	offTxn    = 8
	offOp     = 16
	offKeyLen = 24
	offValLen = 28
	offTime   = 32
)

// Entry is one journal record.
type Entry struct {
	LSN       uint64
	TxnID     uint64
	OpType    OpType
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Size is the encoded length.
func (e *Entry) Size() int {
	return EntryHeaderSize + len(e.Key) + len(e.Value) + crcSize
}

func (e *Entry) Encode() []byte {
	buf := make([]byte, e.Size())
	le := binary.LittleEndian
	le.PutUint64(buf[offLSN:], e.LSN)
	le.PutUint64(buf[offTxn:], e.TxnID)
	buf[offOp] = byte(e.OpType)
	le.PutUint32(buf[offKeyLen:], uint32(len(e.Key)))
	le.PutUint32(buf[offValLen:], uint32(len(e.Value)))
	le.PutUint64(buf[offTime:], uint64(e.Timestamp.UnixMilli()))

	body := buf[EntryHeaderSize:]
	n := copy(body, e.Key)
	copy(body[n:], e.Value)

	end := len(buf) - crcSize
	le.PutUint32(buf[end:], crc32.ChecksumIEEE(buf[:end]))
	return buf
}

// entryLengths reads the key and value lengths from an encoded header.
func entryLengths(header []byte) (keyLen, valLen uint32) {
	return binary.LittleEndian.Uint32(header[offKeyLen:]), binary.LittleEndian.Uint32(header[offValLen:])
}

// DecodeEntry parses one complete encoded entry. Key and Value are copies.
func DecodeEntry(data []byte) (*Entry, error) {
	if len(data) < EntryHeaderSize+crcSize {
		return nil, ErrTruncated
	}
	end := len(data) - crcSize
	if binary.LittleEndian.Uint32(data[end:]) != crc32.ChecksumIEEE(data[:end]) {
		return nil, ErrCorrupted
	}

	keyLen, valLen := entryLengths(data)
	if want := EntryHeaderSize + int(keyLen) + int(valLen) + crcSize; len(data) != want {
		return nil, fmt.Errorf("%w: %d bytes, header says %d", ErrTruncated, len(data), want)
	}

	le := binary.LittleEndian
	e := &Entry{
		LSN:       le.Uint64(data[offLSN:]),
		TxnID:     le.Uint64(data[offTxn:]),
		OpType:    OpType(data[offOp]),
		Timestamp: time.UnixMilli(int64(le.Uint64(data[offTime:]))),
	}
	body := data[EntryHeaderSize:end]
	if keyLen > 0 {
		e.Key = append([]byte(nil), body[:keyLen]...)
	}
	if valLen > 0 {
		e.Value = append([]byte(nil), body[keyLen:]...)
	}
	return e, nil
}

func (e *Entry) String() string {
	return fmt.Sprintf("wal entry lsn=%d txn=%d op=%s key=%dB value=%dB",
		e.LSN, e.TxnID, e.OpType, len(e.Key), len(e.Value))
}
