package walstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/edoardocostantinidev/mora/internal/timestamp"
)

// recordKind tags a WAL record as either a live item or a tombstone marking
// a prior item as deleted. Values are stable on-disk, they must never
// change once written.
type recordKind byte

const (
	kindItem      recordKind = 0x01
	kindTombstone recordKind = 0x00
)

// record is a single decoded WAL entry: a sort_key, the record kind, and
// (for items) the payload that followed it.
type record struct {
	key     timestamp.Timestamp
	kind    recordKind
	payload []byte
}

// encodeItem lays out an item record as:
//
//	sort_key (16) | kind (1) | length (8, LE uint64) | payload (length) | crc32 (4, LE)
//
// crc32 is the IEEE checksum of every byte preceding it.
func encodeItem(key timestamp.Timestamp, payload []byte) []byte {
	header := make([]byte, 0, timestamp.Size+1+8)
	kb := key.Bytes()
	header = append(header, kb[:]...)
	header = append(header, byte(kindItem))
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	header = append(header, lenBuf[:]...)

	sum := crc32.ChecksumIEEE(header)
	sum = crc32.Update(sum, crc32.IEEETable, payload)

	out := make([]byte, 0, len(header)+len(payload)+4)
	out = append(out, header...)
	out = append(out, payload...)
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], sum)
	out = append(out, crcBuf[:]...)
	return out
}

// encodeTombstone lays out a tombstone record as:
//
//	sort_key (16) | kind (1) | crc32 (4, LE)
func encodeTombstone(key timestamp.Timestamp) []byte {
	header := make([]byte, 0, timestamp.Size+1)
	kb := key.Bytes()
	header = append(header, kb[:]...)
	header = append(header, byte(kindTombstone))

	sum := crc32.ChecksumIEEE(header)

	out := make([]byte, 0, len(header)+4)
	out = append(out, header...)
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], sum)
	out = append(out, crcBuf[:]...)
	return out
}

// readRecord decodes the next record from r. It returns io.EOF only when
// the stream ends cleanly on a record boundary (no bytes at all could be
// read for the next sort_key). Any other truncation, or a CRC mismatch, is
// reported as ErrCorruptedData: per spec, replay never silently drops a
// partial trailing record, it fails loudly so the operator can inspect the
// file by hand.
func readRecord(r *bufio.Reader) (record, error) {
	var keyBuf [timestamp.Size]byte
	n, err := io.ReadFull(r, keyBuf[:])
	if n == 0 && err == io.EOF {
		return record{}, io.EOF
	}
	if err != nil {
		return record{}, fmt.Errorf("%w: truncated sort_key: %v", ErrCorruptedData, err)
	}
	key, err := timestamp.FromBytes(keyBuf[:])
	if err != nil {
		return record{}, fmt.Errorf("%w: %v", ErrCorruptedData, err)
	}

	var kindBuf [1]byte
	if _, err := io.ReadFull(r, kindBuf[:]); err != nil {
		return record{}, fmt.Errorf("%w: truncated kind: %v", ErrCorruptedData, err)
	}
	kind := recordKind(kindBuf[0])

	switch kind {
	case kindTombstone:
		header := append(append([]byte{}, keyBuf[:]...), kindBuf[0])
		want := crc32.ChecksumIEEE(header)
		var crcBuf [4]byte
		if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
			return record{}, fmt.Errorf("%w: truncated crc: %v", ErrCorruptedData, err)
		}
		got := binary.LittleEndian.Uint32(crcBuf[:])
		if got != want {
			return record{}, fmt.Errorf("%w: crc mismatch in tombstone", ErrCorruptedData)
		}
		return record{key: key, kind: kindTombstone}, nil

	case kindItem:
		var lenBuf [8]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return record{}, fmt.Errorf("%w: truncated length: %v", ErrCorruptedData, err)
		}
		length := binary.LittleEndian.Uint64(lenBuf[:])
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return record{}, fmt.Errorf("%w: truncated payload: %v", ErrCorruptedData, err)
		}
		header := append(append([]byte{}, keyBuf[:]...), kindBuf[0])
		header = append(header, lenBuf[:]...)
		want := crc32.ChecksumIEEE(header)
		want = crc32.Update(want, crc32.IEEETable, payload)
		var crcBuf [4]byte
		if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
			return record{}, fmt.Errorf("%w: truncated crc: %v", ErrCorruptedData, err)
		}
		got := binary.LittleEndian.Uint32(crcBuf[:])
		if got != want {
			return record{}, fmt.Errorf("%w: crc mismatch in item", ErrCorruptedData)
		}
		return record{key: key, kind: kindItem, payload: payload}, nil

	default:
		return record{}, fmt.Errorf("%w: unknown record kind %#x", ErrCorruptedData, kindBuf[0])
	}
}
