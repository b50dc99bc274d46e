// Copyright 2025 Certen Protocol
//
// Core data types for the price feed pipeline: per-source observations,
// aggregated prices, submission batches, and batch status tracking.

package feed

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceObservation is a single price reported by one upstream source.
// Observations are owned by the collector until they are handed to the
// aggregator; retained observations survive as provenance inside an
// AggregatedPrice.
type PriceObservation struct {
	Symbol    string            `json:"symbol"`
	Source    string            `json:"source"`
	Price     decimal.Decimal   `json:"price"`
	Volume    decimal.Decimal   `json:"volume"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AggregatedPrice is the authoritative price for one symbol in one cycle.
type AggregatedPrice struct {
	Symbol          string             `json:"symbol"`
	Price           decimal.Decimal    `json:"price"`
	Timestamp       time.Time          `json:"timestamp"`
	ConfidenceScore int                `json:"confidence_score"`
	SourceData      []PriceObservation `json:"source_data"`
}

// PriceBatch groups the aggregated prices of one cycle for submission.
type PriceBatch struct {
	BatchID   uuid.UUID         `json:"batch_id"`
	Timestamp time.Time         `json:"timestamp"`
	Prices    []AggregatedPrice `json:"prices"`
}

// NewPriceBatch creates a batch with a fresh ID for the given prices.
func NewPriceBatch(prices []AggregatedPrice) PriceBatch {
	return PriceBatch{
		BatchID:   uuid.New(),
		Timestamp: time.Now().UTC(),
		Prices:    prices,
	}
}

// BatchState is the submission lifecycle state of a sub-batch.
type BatchState string

const (
	BatchStatePending   BatchState = "pending"
	BatchStateSubmitted BatchState = "submitted"
	BatchStateConfirmed BatchState = "confirmed"
	BatchStateFailed    BatchState = "failed"
	BatchStateUnknown   BatchState = "unknown"
)

// Terminal reports whether the state is immutable. Unknown is not
// terminal: a transaction that timed out during polling may still land
// and be upgraded by reconciliation.
func (s BatchState) Terminal() bool {
	return s == BatchStateConfirmed || s == BatchStateFailed
}

// BatchStatus tracks the submission lifecycle of one sub-batch.
type BatchStatus struct {
	BatchID        uuid.UUID  `json:"batch_id"`
	State          BatchState `json:"state"`
	TxHash         string     `json:"tx_hash,omitempty"`
	ProcessedCount int        `json:"processed_count"`
	TotalCount     int        `json:"total_count"`
	Timestamp      time.Time  `json:"timestamp"`
	LastError      string     `json:"last_error,omitempty"`
}
