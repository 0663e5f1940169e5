package iterator

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// checkpointMagic tags the binary encoding so a stray file isn't silently
// misinterpreted as a checkpoint.
const checkpointMagic = uint32(0x50524954) // "PRIT"

// Checkpoint is the resumption record persisted between process restarts:
// which iterator produced it, how far it had progressed, and the scan's
// elapsed time and result count at the moment of the snapshot.
type Checkpoint struct {
	IteratorKey    uint64
	IteratorOffset uint64
	ElapsedNanos   uint64
	ResultsCount   uint64
}

// Encode serializes a Checkpoint to its fixed-width binary form.
func Encode(cp Checkpoint) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.BigEndian, checkpointMagic)
	_ = binary.Write(buf, binary.BigEndian, cp.IteratorKey)
	_ = binary.Write(buf, binary.BigEndian, cp.IteratorOffset)
	_ = binary.Write(buf, binary.BigEndian, cp.ElapsedNanos)
	_ = binary.Write(buf, binary.BigEndian, cp.ResultsCount)
	return buf.Bytes()
}

// Decode parses a Checkpoint previously produced by Encode.
func Decode(data []byte) (Checkpoint, error) {
	const wantLen = 4 + 8*4
	if len(data) != wantLen {
		return Checkpoint{}, fmt.Errorf("iterator: checkpoint length %d, want %d", len(data), wantLen)
	}

	r := bytes.NewReader(data)
	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return Checkpoint{}, fmt.Errorf("iterator: read checkpoint magic: %w", err)
	}
	if magic != checkpointMagic {
		return Checkpoint{}, fmt.Errorf("iterator: bad checkpoint magic %#x", magic)
	}

	var cp Checkpoint
	for _, field := range []*uint64{&cp.IteratorKey, &cp.IteratorOffset, &cp.ElapsedNanos, &cp.ResultsCount} {
		if err := binary.Read(r, binary.BigEndian, field); err != nil {
			return Checkpoint{}, fmt.Errorf("iterator: read checkpoint field: %w", err)
		}
	}
	return cp, nil
}
