package archive

import (
	"hash/crc32"
	"time"
)

/*
Op enumerates the mutation kinds the archive records. Stability updates
are the single sanctioned bypass of the mutation gateway and get their
own frame type so the bypass stays auditable.
*/
type Op string

const (
	OpCreate          Op = "create"
	OpMerge           Op = "merge"
	OpEdgeUpdate      Op = "edge_update"
	OpStabilityUpdate Op = "stability_update"
	OpArchiveConcept  Op = "archive_concept"
)

/*
Frame is one append-only archive record. Seq is assigned by the log and is
strictly increasing with no gaps. CRC covers the plaintext payload; when
the log is sealed the payload bytes on disk are AEAD ciphertext and Nonce
is set, with the tag verified before the CRC is checked on replay.
*/
type Frame struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Op        Op        `json:"op"`
	Payload   []byte    `json:"payload"`
	CRC       uint32    `json:"crc"`
	Nonce     []byte    `json:"nonce,omitempty"`
}

// castagnoli is the CRC polynomial used for payload integrity. Same table
// for every frame, computed once.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the integrity checksum of a plaintext payload.
func Checksum(payload []byte) uint32 {
	return crc32.Checksum(payload, castagnoli)
}
