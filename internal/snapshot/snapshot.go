package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"MultiBridge/internal/storage"
	"MultiBridge/internal/types"
)

const (
	// snapshotVersion is the current snapshot format version.
	snapshotVersion = 1

	// maxSnapshotSize bounds the decompressed size of an imported snapshot.
	maxSnapshotSize = 1 << 30 // 1 GB
)

var (
	// ErrNotEmpty is returned when restoring into a store that already holds data.
	ErrNotEmpty = errors.New("store is not empty")

	// ErrChecksumMismatch is returned when the content does not match the stored checksum.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrUnsupportedVersion is returned for snapshots of an unknown format.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
)

// entry holds one key-value pair.
type entry struct {
	key   []byte
	value []byte
}

// Create builds an uncompressed snapshot of every key in db.
// Pebble iterates in key order, so the output is deterministic for a given state.
func Create(db *storage.Storage) ([]byte, error) {
	entries, err := collect(db)
	if err != nil {
		return nil, fmt.Errorf("collect entries:\n%w", err)
	}

	return build(entries), nil
}

// Export writes a compressed snapshot of db to w.
func Export(db *storage.Storage, w io.Writer) error {
	data, err := Create(db)
	if err != nil {
		return err
	}

	compressed, err := Compress(data)
	if err != nil {
		return err
	}

	_, err = w.Write(compressed)
	return err
}

// Restore reads a compressed snapshot file into db, which must be empty.
// Returns the number of restored keys.
func Restore(db *storage.Storage, path string) (int, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read snapshot:\n%w", err)
	}

	data, err := Decompress(compressed)
	if err != nil {
		return 0, fmt.Errorf("decompress snapshot:\n%w", err)
	}

	return Apply(db, data)
}

// collect copies every key-value pair out of db.
func collect(db *storage.Storage) ([]entry, error) {
	var entries []entry

	err := db.Iterate(func(key, value []byte) error {
		// Copy key and value to avoid iterator invalidation
		entries = append(entries, entry{
			key:   append([]byte(nil), key...),
			value: append([]byte(nil), value...),
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// build creates the FlatBuffers snapshot with its checksum.
func build(entries []entry) []byte {
	checksum := computeChecksum(snapshotVersion, entries)

	builder := flatbuffers.NewBuilder(1024)

	offsets := make([]flatbuffers.UOffsetT, len(entries))
	for i, e := range entries {
		keyOffset := builder.CreateByteVector(e.key)
		valueOffset := builder.CreateByteVector(e.value)

		types.SnapshotEntryStart(builder)
		types.SnapshotEntryAddKey(builder, keyOffset)
		types.SnapshotEntryAddValue(builder, valueOffset)
		offsets[i] = types.SnapshotEntryEnd(builder)
	}

	types.SnapshotStartEntriesVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	entriesVector := builder.EndVector(len(offsets))

	checksumOffset := builder.CreateByteVector(checksum[:])

	types.SnapshotStart(builder)
	types.SnapshotAddVersion(builder, snapshotVersion)
	types.SnapshotAddEntries(builder, entriesVector)
	types.SnapshotAddChecksum(builder, checksumOffset)
	builder.Finish(types.SnapshotEnd(builder))

	return builder.FinishedBytes()
}

// computeChecksum hashes the canonical snapshot content.
// Format: version (4 bytes) + per entry: u32 key len, key, u32 value len, value
func computeChecksum(version uint32, entries []entry) [32]byte {
	hasher := blake3.New()

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], version)
	hasher.Write(buf[:])

	for _, e := range entries {
		binary.BigEndian.PutUint32(buf[:], uint32(len(e.key)))
		hasher.Write(buf[:])
		hasher.Write(e.key)

		binary.BigEndian.PutUint32(buf[:], uint32(len(e.value)))
		hasher.Write(buf[:])
		hasher.Write(e.value)
	}

	var checksum [32]byte
	hasher.Sum(checksum[:0])

	return checksum
}

// Compress compresses snapshot data using zstd.
func Compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// Decompress decompresses zstd-compressed snapshot data.
func Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxSnapshotSize))
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}

// Apply verifies an uncompressed snapshot and writes it to db atomically.
// db must be empty: a restore never merges with existing state.
func Apply(db *storage.Storage, data []byte) (int, error) {
	empty, err := db.IsEmpty()
	if err != nil {
		return 0, err
	}

	if !empty {
		return 0, ErrNotEmpty
	}

	entries, err := decode(data)
	if err != nil {
		return 0, err
	}

	pairs := make([]storage.KeyValue, len(entries))
	for i, e := range entries {
		pairs[i] = storage.KeyValue{Key: e.key, Value: e.value}
	}

	if err := db.Write(pairs); err != nil {
		return 0, fmt.Errorf("write entries:\n%w", err)
	}

	return len(entries), nil
}

// decode parses and verifies a snapshot.
func decode(data []byte) (entries []entry, err error) {
	if len(data) < flatbuffers.SizeUOffsetT {
		return nil, fmt.Errorf("snapshot too short: %d", len(data))
	}

	// FlatBuffers accessors panic on out-of-range offsets.
	defer func() {
		if r := recover(); r != nil {
			entries, err = nil, fmt.Errorf("malformed snapshot: %v", r)
		}
	}()

	snap := types.GetRootAsSnapshot(data, 0)

	if snap.Version() != snapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Version())
	}

	stored := snap.ChecksumBytes()
	if len(stored) != 32 {
		return nil, fmt.Errorf("invalid checksum length: %d", len(stored))
	}

	entries = make([]entry, snap.EntriesLength())
	var e types.SnapshotEntry

	for i := range entries {
		if !snap.Entries(&e, i) {
			return nil, fmt.Errorf("read entry %d", i)
		}

		key := e.KeyBytes()
		if len(key) == 0 {
			return nil, fmt.Errorf("entry %d: empty key", i)
		}

		if i > 0 && bytes.Compare(entries[i-1].key, key) >= 0 {
			return nil, fmt.Errorf("entry %d: keys not strictly ordered", i)
		}

		// Copy bytes to detach from the FlatBuffers buffer
		entries[i] = entry{
			key:   append([]byte(nil), key...),
			value: append([]byte{}, e.ValueBytes()...),
		}
	}

	computed := computeChecksum(snap.Version(), entries)
	if !bytes.Equal(computed[:], stored) {
		return nil, ErrChecksumMismatch
	}

	return entries, nil
}
