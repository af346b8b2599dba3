package message

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/zeebo/blake3"
)

func testMessage() Message {
	return Message{
		DstChainID: 10,
		Nonce:      7,
		Target:     Address{0xAB},
		Payload:    []byte("transfer(alice,100)"),
	}
}

// TestComputeID_Deterministic tests that the same inputs give the same ID.
func TestComputeID_Deterministic(t *testing.T) {
	a := ComputeID(1, testMessage())
	b := ComputeID(1, testMessage())

	if a != b {
		t.Fatalf("ids differ: %s != %s", a, b)
	}
}

// TestComputeID_TransportIndependent tests that two transports relaying the
// same logical message produce the same identity.
func TestComputeID_TransportIndependent(t *testing.T) {
	type delivery struct {
		transport string
		src       ChainID
		msg       Message
	}

	deliveries := []delivery{
		{transport: "hyperlane", src: 1, msg: testMessage()},
		{transport: "wormhole", src: 1, msg: testMessage()},
	}

	first := ComputeID(deliveries[0].src, deliveries[0].msg)

	for _, d := range deliveries[1:] {
		if got := ComputeID(d.src, d.msg); got != first {
			t.Errorf("%s: id %s, want %s", d.transport, got.Short(), first.Short())
		}
	}
}

// TestComputeID_FieldSensitivity tests that every routing field changes the ID.
func TestComputeID_FieldSensitivity(t *testing.T) {
	base := ComputeID(1, testMessage())

	cases := map[string]func() ID{
		"src chain": func() ID { return ComputeID(2, testMessage()) },
		"dst chain": func() ID {
			m := testMessage()
			m.DstChainID = 11
			return ComputeID(1, m)
		},
		"nonce": func() ID {
			m := testMessage()
			m.Nonce = 8
			return ComputeID(1, m)
		},
		"target": func() ID {
			m := testMessage()
			m.Target = Address{0xAC}
			return ComputeID(1, m)
		},
		"payload": func() ID {
			m := testMessage()
			m.Payload = []byte("transfer(alice,101)")
			return ComputeID(1, m)
		},
	}

	for name, fn := range cases {
		if fn() == base {
			t.Errorf("changing %s did not change the id", name)
		}
	}
}

// TestComputeID_PayloadBoundary tests that the payload length prefix keeps
// shifted boundaries from colliding.
func TestComputeID_PayloadBoundary(t *testing.T) {
	m1 := testMessage()
	m1.Payload = []byte{0x00}

	m2 := testMessage()
	m2.Payload = nil

	if ComputeID(1, m1) == ComputeID(1, m2) {
		t.Fatal("empty and single-zero payloads collide")
	}
}

// TestParseAddress tests hex parsing with and without prefix.
func TestParseAddress(t *testing.T) {
	want := Address{0x01, 0x02}

	for _, s := range []string{want.String(), "0x" + want.String()} {
		got, err := ParseAddress(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}

		if got != want {
			t.Errorf("parse %q: got %s", s, got)
		}
	}

	if _, err := ParseAddress("abcd"); err == nil {
		t.Error("expected error for short address")
	}
}

// TestComputeID_Layout tests the hashed layout, with the payload length as a
// 64-bit field so no payload size can alias another.
func TestComputeID_Layout(t *testing.T) {
	msg := testMessage()

	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint64(1))
	binary.Write(&buf, binary.BigEndian, uint64(msg.DstChainID))
	binary.Write(&buf, binary.BigEndian, msg.Nonce)
	buf.Write(msg.Target[:])
	binary.Write(&buf, binary.BigEndian, uint64(len(msg.Payload)))
	buf.Write(msg.Payload)

	want := ID(blake3.Sum256(buf.Bytes()))

	if got := ComputeID(1, msg); got != want {
		t.Fatalf("id %s, want %s", got, want)
	}
}
