package client

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"MultiBridge/internal/message"
	"MultiBridge/internal/receipt"
)

// newTestClient serves mux and returns a client pointed at it.
func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewClient(strings.TrimPrefix(srv.URL, "http://"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestClient_Self(t *testing.T) {
	self := message.Address{0x42}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, Status{Self: self.String(), Initialized: true, Threshold: 67})
	})

	got, err := newTestClient(t, mux).Self()
	if err != nil {
		t.Fatalf("self: %v", err)
	}

	if got != self {
		t.Errorf("self = %s, want %s", got, self)
	}
}

func TestClient_Message(t *testing.T) {
	id := message.ID{0x01}

	mux := http.NewServeMux()
	mux.HandleFunc("/messages/"+id.String(), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, MessageStatus{ID: id.String(), Status: "executed", Power: 70, Required: 67})
	})

	st, err := newTestClient(t, mux).Message(id)
	if err != nil {
		t.Fatalf("message: %v", err)
	}

	if !st.Executed() || st.Power != 70 {
		t.Errorf("status = %+v", st)
	}
}

func TestClient_ErrorBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		writeJSON(w, map[string]string{"error": "store closed"})
	})

	_, err := newTestClient(t, mux).Status()
	if err == nil || !strings.Contains(err.Error(), "store closed") {
		t.Fatalf("expected api error message, got %v", err)
	}
}

func TestClient_Receipt(t *testing.T) {
	key, err := receipt.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	good := message.ID{0x01}
	forged := message.ID{0x02}

	serve := func(id message.ID, src uint64, sig []byte) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{
				"msgId":      id.String(),
				"srcChainId": src,
				"signer":     hex.EncodeToString(key.PublicKey()),
				"signature":  hex.EncodeToString(sig),
			})
		}
	}

	digest := receipt.Digest(good, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/receipts/"+good.String(), serve(good, 1, key.Sign(digest)))
	// Signature made for another message.
	mux.HandleFunc("/receipts/"+forged.String(), serve(forged, 1, key.Sign(digest)))

	c := newTestClient(t, mux)

	rc, err := c.Receipt(good)
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}

	if rc.MsgID != good || rc.SrcChainID != 1 {
		t.Errorf("receipt = %+v", rc)
	}

	if _, err := c.Receipt(forged); !errors.Is(err, receipt.ErrInvalidReceipt) {
		t.Errorf("expected invalid receipt, got %v", err)
	}

	rc, err = c.Receipt(message.ID{0x03})
	if err != nil || rc != nil {
		t.Errorf("missing receipt: got %v, %v", rc, err)
	}
}

func TestClient_Snapshot(t *testing.T) {
	payload := []byte{0x28, 0xb5, 0x2f, 0xfd, 0x01, 0x02}

	mux := http.NewServeMux()
	mux.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	})

	var buf bytes.Buffer
	if err := newTestClient(t, mux).Snapshot(&buf); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if !bytes.Equal(buf.Bytes(), payload) {
		t.Errorf("snapshot = %x, want %x", buf.Bytes(), payload)
	}
}
