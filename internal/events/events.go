package events

import (
	"encoding/json"
	"fmt"

	"MultiBridge/internal/message"
)

// Kind is the type of a notification.
type Kind uint8

const (
	// SourceWeightChanged is emitted when a source is added, reweighted or removed.
	SourceWeightChanged Kind = iota + 1
	// OriginChanged is emitted when the upstream of a chain is set.
	OriginChanged
	// ThresholdChanged is emitted when the quorum threshold is set.
	ThresholdChanged
	// AttestationReceived is emitted for every counted attestation.
	AttestationReceived
	// MessageExecuted is emitted once per message, after dispatch succeeded.
	MessageExecuted
)

var kindNames = map[Kind]string{
	SourceWeightChanged: "source_weight_changed",
	OriginChanged:       "origin_changed",
	ThresholdChanged:    "threshold_changed",
	AttestationReceived: "attestation_received",
	MessageExecuted:     "message_executed",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MarshalText encodes the kind as its name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is a notification emitted by the aggregation engine after a commit.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind Kind // Kind selects which fields are meaningful

	MsgID      message.ID      // MsgID is the message for attestation and execution events
	SrcChainID message.ChainID // SrcChainID is the source chain for message and origin events
	Source     message.Address // Source is the attestor or the reweighted source
	Upstream   message.Address // Upstream is the new upstream of an origin event
	Target     message.Address // Target is the dispatch target of an execution

	OldWeight   uint64 // OldWeight is the weight before a source change
	Weight      uint64 // Weight is the weight after a source change
	TotalWeight uint64 // TotalWeight is the registry total after the event
	Threshold   uint64 // Threshold is the new threshold, or the one used at execution
	Power       uint64 // Power is the accumulated weight of the message at emission
}

// eventJSON is the wire form of Event with hex identifiers.
type eventJSON struct {
	Kind        Kind   `json:"kind"`
	MsgID       string `json:"msgId,omitempty"`
	SrcChainID  uint64 `json:"srcChainId,omitempty"`
	Source      string `json:"source,omitempty"`
	Upstream    string `json:"upstream,omitempty"`
	Target      string `json:"target,omitempty"`
	OldWeight   uint64 `json:"oldWeight,omitempty"`
	Weight      uint64 `json:"weight,omitempty"`
	TotalWeight uint64 `json:"totalWeight,omitempty"`
	Threshold   uint64 `json:"threshold,omitempty"`
	Power       uint64 `json:"power,omitempty"`
}

// MarshalJSON encodes the event with hex identifiers and without unset fields.
func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		Kind:        e.Kind,
		SrcChainID:  uint64(e.SrcChainID),
		OldWeight:   e.OldWeight,
		Weight:      e.Weight,
		TotalWeight: e.TotalWeight,
		Threshold:   e.Threshold,
		Power:       e.Power,
	}

	if e.MsgID != (message.ID{}) {
		out.MsgID = e.MsgID.String()
	}
	if !e.Source.IsZero() {
		out.Source = e.Source.String()
	}
	if !e.Upstream.IsZero() {
		out.Upstream = e.Upstream.String()
	}
	if !e.Target.IsZero() {
		out.Target = e.Target.String()
	}

	return json.Marshal(out)
}

// ParseKind returns the kind named name.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}
