package archive

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/conceptmesh/mesh-go/pkg/errors"
)

/*
Log is the append-only audit archive. Every accepted mutation becomes one
length-prefixed record on disk:

	uint32 big-endian record length | JSON-encoded Frame

Sequence numbers are assigned on append and are strictly increasing with
no gaps. When a sealing key is configured, each payload is encrypted with
ChaCha20-Poly1305 before it hits disk; the CRC always covers plaintext so
replay verifies the tag first, then the checksum.
*/
type Log struct {
	mu      sync.Mutex
	f       *os.File
	offsets []int64
	key     []byte
}

/*
Open opens (or creates) an archive file and scans it to rebuild the
sequence index. Pass a 32-byte key to enable payload sealing, or nil for
plaintext payloads.
*/
func Open(path string, key []byte) (*Log, error) {
	if key != nil && len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("sealing key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	l := &Log{f: f, key: key}
	if err := l.scan(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// scan walks the file once to build the seq -> offset index. A torn tail
// (a partial length prefix or a record running past EOF, left by a crash
// mid-write) is truncated away so the next Append starts on a whole-record
// boundary instead of fusing garbage onto the last good frame. Payload
// corruption inside intact records is detected lazily on replay/verify,
// never here.
func (l *Log) scan() error {
	size, err := l.f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to size archive: %w", err)
	}

	var offset int64
	var lenBuf [4]byte

	for offset+4 <= size {
		if _, err := l.f.ReadAt(lenBuf[:], offset); err != nil {
			return fmt.Errorf("failed to scan archive at offset %d: %w", offset, err)
		}
		recLen := binary.BigEndian.Uint32(lenBuf[:])
		if offset+4+int64(recLen) > size {
			break
		}
		l.offsets = append(l.offsets, offset)
		offset += 4 + int64(recLen)
	}

	if offset < size {
		log.Warn("truncating torn archive tail", "offset", offset, "dropped_bytes", size-offset)
		if err := l.f.Truncate(offset); err != nil {
			return fmt.Errorf("failed to truncate torn tail: %w", err)
		}
	}
	return nil
}

// Len reports the number of frames in the log.
func (l *Log) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.offsets))
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

/*
Append records one mutation and returns its assigned sequence number. The
write is synced before returning: the gateway acknowledges a proposal only
after its frame is durable.
*/
func (l *Log) Append(op Op, payload []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	frame := Frame{
		Seq:       uint64(len(l.offsets)),
		Timestamp: time.Now().UTC(),
		Op:        op,
		CRC:       Checksum(payload),
		Payload:   payload,
	}

	if l.key != nil {
		sealed, nonce, err := l.seal(frame.Seq, payload)
		if err != nil {
			return 0, err
		}
		frame.Payload = sealed
		frame.Nonce = nonce
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return 0, fmt.Errorf("failed to encode frame: %w", err)
	}

	offset, err := l.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := l.f.Write(lenBuf[:]); err != nil {
		return 0, fmt.Errorf("failed to write frame length: %w", err)
	}
	if _, err := l.f.Write(data); err != nil {
		return 0, fmt.Errorf("failed to write frame: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync archive: %w", err)
	}

	l.offsets = append(l.offsets, offset)
	return frame.Seq, nil
}

func (l *Log) seal(seq uint64, payload []byte) (sealed, nonce []byte, err error) {
	aead, err := chacha20poly1305.New(l.key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	var ad [8]byte
	binary.BigEndian.PutUint64(ad[:], seq)
	return aead.Seal(nil, nonce, payload, ad[:]), nonce, nil
}

// readFrame loads and integrity-checks a single frame. The returned frame
// always carries the plaintext payload.
func (l *Log) readFrame(seq uint64) (*Frame, error) {
	l.mu.Lock()
	if seq >= uint64(len(l.offsets)) {
		l.mu.Unlock()
		return nil, fmt.Errorf("seq %d beyond end of archive", seq)
	}
	offset := l.offsets[seq]
	var end int64
	if seq+1 < uint64(len(l.offsets)) {
		end = l.offsets[seq+1]
	} else {
		end, _ = l.f.Seek(0, io.SeekEnd)
	}
	l.mu.Unlock()

	buf := make([]byte, end-offset-4)
	if _, err := l.f.ReadAt(buf, offset+4); err != nil {
		return nil, errors.ErrCorruption.WithSeq(seq)
	}

	var frame Frame
	if err := json.Unmarshal(buf, &frame); err != nil {
		return nil, errors.ErrCorruption.WithSeq(seq)
	}
	if frame.Seq != seq {
		return nil, errors.ErrCorruption.WithSeq(seq)
	}

	if frame.Nonce != nil {
		if l.key == nil {
			return nil, errors.ErrCorruption.WithSeq(seq)
		}
		aead, err := chacha20poly1305.New(l.key)
		if err != nil {
			return nil, err
		}
		var ad [8]byte
		binary.BigEndian.PutUint64(ad[:], seq)
		plain, err := aead.Open(nil, frame.Nonce, frame.Payload, ad[:])
		if err != nil {
			// tampered ciphertext or wrong key
			return nil, errors.ErrCorruption.WithSeq(seq)
		}
		frame.Payload = plain
	}

	if Checksum(frame.Payload) != frame.CRC {
		return nil, errors.ErrCorruption.WithSeq(seq)
	}

	return &frame, nil
}

/*
ReplayFn receives each frame in order. When a frame fails its integrity
check the frame is nil and ferr identifies the bad sequence; returning nil
skips it (an acknowledged gap) and returning an error halts the replay.
Corruption never cascades: the next frame is read independently.
*/
type ReplayFn func(frame *Frame, ferr error) error

/*
Replay streams frames from fromSeq to the end of the log.
*/
func (l *Log) Replay(ctx context.Context, fromSeq uint64, fn ReplayFn) error {
	for seq := fromSeq; seq < l.Len(); seq++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, ferr := l.readFrame(seq)
		if err := fn(frame, ferr); err != nil {
			return err
		}
	}
	return nil
}

/*
Verify checks integrity of frames in [from, to). It returns nil when every
frame passes, or the corruption error naming the first bad sequence.
*/
func (l *Log) Verify(from, to uint64) error {
	if to > l.Len() {
		to = l.Len()
	}
	for seq := from; seq < to; seq++ {
		if _, err := l.readFrame(seq); err != nil {
			return err
		}
	}
	return nil
}

/*
Applier is anything that can apply an (op, payload) mutation, in practice
the store's Writer. Declared here so replay does not depend on the store
package.
*/
type Applier interface {
	Apply(op Op, payload []byte) error
}

/*
Rebuild replays the archive from fromSeq into an applier, reproducing
store state deterministically. Pass 0 for a full rebuild, or the version
of a restored snapshot to apply only the frames it hasn't seen. Corrupt
frames are skipped and logged; the caller gets the list of skipped
sequences and decides whether the gap is acceptable.
*/
func (l *Log) Rebuild(ctx context.Context, fromSeq uint64, applier Applier) (skipped []uint64, err error) {
	err = l.Replay(ctx, fromSeq, func(frame *Frame, ferr error) error {
		if ferr != nil {
			me, ok := ferr.(*errors.MeshError)
			if !ok {
				return ferr
			}
			seq, _ := me.Data.(uint64)
			log.Error("skipping corrupt frame during rebuild", "seq", seq)
			skipped = append(skipped, seq)
			return nil
		}
		return applier.Apply(frame.Op, frame.Payload)
	})
	return skipped, err
}
