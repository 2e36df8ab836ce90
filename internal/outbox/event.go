// Package outbox persists and delivers ledger events to Kafka.
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"example.com/recurring/internal/domain"
)

// EventTransactionMaterialized is emitted once per inserted ledger row.
const EventTransactionMaterialized = "ledger.transaction_materialized"

// TransactionMaterialized is the event payload.
type TransactionMaterialized struct {
	TransactionID     string    `json:"transaction_id"`
	UserID            string    `json:"user_id"`
	SourceRecurringID string    `json:"source_recurring_id"`
	OccurrenceNumber  int       `json:"occurrence_number"`
	Date              string    `json:"date"`
	Amount            float64   `json:"amount"`
	Currency          string    `json:"currency"`
	Type              string    `json:"type"`
	OriginalAmount    *float64  `json:"original_amount,omitempty"`
	OriginalCurrency  *string   `json:"original_currency,omitempty"`
	ConversionRate    *float64  `json:"conversion_rate,omitempty"`
	RateSource        *string   `json:"rate_source,omitempty"`
	MaterializedAt    time.Time `json:"materialized_at"`
}

// Record is an outbox row ready to insert alongside its ledger row.
type Record struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	PartitionKey  string
	DedupeKey     string
	Payload       json.RawMessage
}

// RecordFor builds the outbox row for tx. Events of one definition share a partition key.
func RecordFor(topic string, tx domain.LedgerTransaction, at time.Time) (Record, error) {
	body, err := json.Marshal(TransactionMaterialized{
		TransactionID:     tx.ID,
		UserID:            tx.UserID,
		SourceRecurringID: tx.SourceRecurringID,
		OccurrenceNumber:  tx.OccurrenceNumber,
		Date:              tx.Date.Format(domain.DateLayout),
		Amount:            tx.Amount,
		Currency:          tx.Currency,
		Type:              tx.Type,
		OriginalAmount:    tx.OriginalAmount,
		OriginalCurrency:  tx.OriginalCurrency,
		ConversionRate:    tx.ConversionRate,
		RateSource:        tx.RateSource,
		MaterializedAt:    at.UTC(),
	})
	if err != nil {
		return Record{}, err
	}

	return Record{
		AggregateType: "transaction",
		AggregateID:   tx.ID,
		EventType:     EventTransactionMaterialized,
		Topic:         topic,
		PartitionKey:  tx.SourceRecurringID,
		DedupeKey:     fmt.Sprintf("%s#%d:%s", tx.SourceRecurringID, tx.OccurrenceNumber, EventTransactionMaterialized),
		Payload:       body,
	}, nil
}
