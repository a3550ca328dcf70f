// Package record encodes and decodes the opaque fixed-size records
// stored behind every value cell. Workload row types (pkg/workload)
// are ordinary Go structs; record bridges them to the fixed-width
// []byte buffers pkg/arena hands out.
package record

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ErrTooLarge is returned by Encode when v's BSON encoding doesn't fit
// in the table's fixed record size.
type ErrTooLarge struct {
	Encoded int
	Limit   int
}

func (e *ErrTooLarge) Error() string {
	return fmt.Sprintf("record: encoded size %d exceeds fixed record size %d", e.Encoded, e.Limit)
}

// Encode marshals v (a workload row struct, tagged the way
// go.mongodb.org/mongo-driver's bson package expects) into buf, which
// must be exactly the table's fixed record size. The first four bytes
// of buf store the encoded document's length so Decode knows how much
// of the remainder (the rest is zero-padding) to feed back to BSON.
func Encode(buf []byte, v interface{}) error {
	doc, err := bson.Marshal(v)
	if err != nil {
		return fmt.Errorf("record: marshal: %w", err)
	}
	if len(doc)+lengthPrefixSize > len(buf) {
		return &ErrTooLarge{Encoded: len(doc) + lengthPrefixSize, Limit: len(buf)}
	}

	clear(buf)
	putUint32(buf, uint32(len(doc)))
	copy(buf[lengthPrefixSize:], doc)
	return nil
}

// Decode unmarshals the document Encode previously wrote into buf back
// into v (a pointer to a workload row struct).
func Decode(buf []byte, v interface{}) error {
	if len(buf) < lengthPrefixSize {
		return fmt.Errorf("record: buffer too small (%d bytes) for a length prefix", len(buf))
	}
	n := getUint32(buf)
	if int(n)+lengthPrefixSize > len(buf) {
		return fmt.Errorf("record: corrupt length prefix %d exceeds buffer size %d", n, len(buf))
	}
	if err := bson.Unmarshal(buf[lengthPrefixSize:lengthPrefixSize+int(n)], v); err != nil {
		return fmt.Errorf("record: unmarshal: %w", err)
	}
	return nil
}

const lengthPrefixSize = 4

func putUint32(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

func getUint32(buf []byte) uint32 {
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}
