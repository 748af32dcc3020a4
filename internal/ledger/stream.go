package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"

	"trustid/pkg/platform/outbox"
)

const (
	AggregateRegistry   = "registry"
	AggregateCredential = "credential"
)

// aggregateKeys is the union of the payload fields that identify an aggregate.
type aggregateKeys struct {
	TokenID     uint64 `json:"token_id"`
	Employer    string `json:"employer"`
	Institution string `json:"institution"`
}

// Aggregate returns the stream aggregate an event belongs to. Registry events
// are keyed by party address, credential events by token id, so a
// partitioned consumer sees each token's history in order.
func Aggregate(e Event) (aggregateType, aggregateID string, err error) {
	var keys aggregateKeys
	if err := json.Unmarshal(e.Payload, &keys); err != nil {
		return "", "", fmt.Errorf("decode aggregate keys at seq %d: %w", e.Seq, err)
	}
	switch e.Kind {
	case KindEmployerRegistered:
		return AggregateRegistry, keys.Employer, nil
	case KindInstitutionRegistered:
		return AggregateRegistry, keys.Institution, nil
	default:
		return AggregateCredential, strconv.FormatUint(keys.TokenID, 10), nil
	}
}

// OutboxEntry wraps a committed event for the outbox.
func OutboxEntry(e Event) (*outbox.Entry, error) {
	aggType, aggID, err := Aggregate(e)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %d: %w", e.Seq, err)
	}
	return outbox.NewEntry(aggType, aggID, string(e.Kind), e.Seq, raw, e.Timestamp), nil
}

// OutboxEntries wraps a committed batch, failing before any entry is staged.
func OutboxEntries(events []Event) ([]*outbox.Entry, error) {
	entries := make([]*outbox.Entry, 0, len(events))
	for _, e := range events {
		entry, err := OutboxEntry(e)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
