package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"MultiBridge/internal/aggregation"
	"MultiBridge/internal/ledger"
	"MultiBridge/internal/message"
	"MultiBridge/internal/storage"
	"MultiBridge/internal/types"
)

// newTestStorage creates an in-memory storage closed at test end.
func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()

	db, err := storage.NewMemory()
	if err != nil {
		t.Fatalf("create storage: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	return db
}

// fill writes n deterministic keys across several prefixes.
func fill(t *testing.T, db *storage.Storage, n int) {
	t.Helper()

	var pairs []storage.KeyValue
	for i := 0; i < n; i++ {
		pairs = append(pairs, storage.KeyValue{
			Key:   []byte(fmt.Sprintf("%c:%04d", "mqs"[i%3], i)),
			Value: []byte(fmt.Sprintf("value-%d", i)),
		})
	}

	if err := db.Write(pairs); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// dump returns every pair of db in key order.
func dump(t *testing.T, db *storage.Storage) []entry {
	t.Helper()

	entries, err := collect(db)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	return entries
}

func TestSnapshot_RoundTrip(t *testing.T) {
	src := newTestStorage(t)
	fill(t, src, 50)

	var buf bytes.Buffer
	if err := Export(src, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	data, err := Decompress(buf.Bytes())
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}

	dst := newTestStorage(t)

	n, err := Apply(dst, data)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if n != 50 {
		t.Errorf("restored %d entries, want 50", n)
	}

	want, got := dump(t, src), dump(t, dst)
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}

	for i := range want {
		if !bytes.Equal(got[i].key, want[i].key) || !bytes.Equal(got[i].value, want[i].value) {
			t.Errorf("entry %d: got %q=%q, want %q=%q", i, got[i].key, got[i].value, want[i].key, want[i].value)
		}
	}
}

func TestSnapshot_Deterministic(t *testing.T) {
	a := newTestStorage(t)
	b := newTestStorage(t)
	fill(t, a, 20)
	fill(t, b, 20)

	snapA, err := Create(a)
	if err != nil {
		t.Fatalf("create a: %v", err)
	}

	snapB, err := Create(b)
	if err != nil {
		t.Fatalf("create b: %v", err)
	}

	if !bytes.Equal(snapA, snapB) {
		t.Error("identical stores produced different snapshots")
	}
}

func TestSnapshot_Empty(t *testing.T) {
	data, err := Create(newTestStorage(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	n, err := Apply(newTestStorage(t), data)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if n != 0 {
		t.Errorf("restored %d entries from an empty snapshot", n)
	}
}

func TestApply_RequiresEmptyStore(t *testing.T) {
	src := newTestStorage(t)
	fill(t, src, 3)

	data, err := Create(src)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := Apply(src, data); !errors.Is(err, ErrNotEmpty) {
		t.Fatalf("expected ErrNotEmpty, got %v", err)
	}
}

func TestApply_DetectsTampering(t *testing.T) {
	src := newTestStorage(t)
	fill(t, src, 5)

	data, err := Create(src)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	snap := types.GetRootAsSnapshot(data, 0)

	var e types.SnapshotEntry
	if !snap.Entries(&e, 2) {
		t.Fatal("read entry 2")
	}

	e.MutateValue(0, e.Value(0)^0xFF)

	dst := newTestStorage(t)

	if _, err := Apply(dst, data); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}

	empty, err := dst.IsEmpty()
	if err != nil {
		t.Fatalf("is empty: %v", err)
	}

	if !empty {
		t.Error("rejected snapshot left data behind")
	}
}

func TestApply_RejectsUnknownVersion(t *testing.T) {
	data, err := Create(newTestStorage(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	types.GetRootAsSnapshot(data, 0).MutateVersion(snapshotVersion + 1)

	if _, err := Apply(newTestStorage(t), data); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestApply_RejectsGarbage(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":   nil,
		"short":   {0x01},
		"garbage": bytes.Repeat([]byte{0xFF}, 64),
	} {
		if _, err := Apply(newTestStorage(t), data); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	if _, err := Decompress([]byte("not zstd")); err == nil {
		t.Error("expected decompress error")
	}
}

// TestRestore_Engine tests that a restored store yields the same engine state.
func TestRestore_Engine(t *testing.T) {
	srcA := message.Address{0xA0}
	srcB := message.Address{0xB0}
	self := message.Address{0x5E}
	upstream := message.Address{0x11}

	db := newTestStorage(t)

	engine, err := aggregation.New(db, nil, nil, aggregation.Config{Self: self})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	err = engine.Initialize(aggregation.InitParams{
		ChainIDs:  []message.ChainID{1},
		Upstreams: []message.Address{upstream},
		Sources:   []message.Address{srcA, srcB},
		Weights:   []uint64{30, 70},
		Threshold: 50,
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	msg := message.Message{DstChainID: 10, Nonce: 1, Target: message.Address{0xAB}, Payload: []byte("x")}
	out, err := engine.Receive(context.Background(), srcA, msg, message.Provenance{SrcChainID: 1, Upstream: upstream})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	path := filepath.Join(t.TempDir(), "state.snap")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}

	if err := Export(db, f); err != nil {
		t.Fatalf("export: %v", err)
	}
	f.Close()

	restored := newTestStorage(t)

	if _, err := Restore(restored, path); err != nil {
		t.Fatalf("restore: %v", err)
	}

	clone, err := aggregation.New(restored, nil, nil, aggregation.Config{Self: self})
	if err != nil {
		t.Fatalf("load restored engine: %v", err)
	}

	if !clone.Initialized() {
		t.Error("restored engine not initialized")
	}

	if clone.Threshold() != 50 || clone.TotalWeight() != 100 {
		t.Errorf("threshold %d total %d, want 50 100", clone.Threshold(), clone.TotalWeight())
	}

	if clone.Origin(1) != upstream {
		t.Errorf("origin not restored")
	}

	st, err := clone.Message(out.ID)
	if err != nil {
		t.Fatalf("message: %v", err)
	}

	if st.Status != ledger.Pending || st.Power != 30 {
		t.Errorf("message %s power %d, want pending 30", st.Status, st.Power)
	}
}
