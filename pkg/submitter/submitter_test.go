// Copyright 2025 Certen Protocol
//
// Unit tests for batch partitioning, status tracking, and the
// submit/confirm flow against a fake RPC node.

package submitter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tee-oracle/neo-price-feed/pkg/feed"
	"github.com/tee-oracle/neo-price-feed/pkg/neo"
)

func aggPrice(symbol string, price float64) feed.AggregatedPrice {
	return feed.AggregatedPrice{
		Symbol:          symbol,
		Price:           decimal.NewFromFloat(price),
		Timestamp:       time.Now().UTC(),
		ConfidenceScore: 100,
		SourceData: []feed.PriceObservation{
			{Symbol: symbol, Source: "binance", Price: decimal.NewFromFloat(price)},
		},
	}
}

// ============================================================================
// Partitioning
// ============================================================================

func TestPartitionCoversEveryPriceOnce(t *testing.T) {
	var prices []feed.AggregatedPrice
	for i := 0; i < 120; i++ {
		prices = append(prices, aggPrice("SYM"+string(rune('A'+i%26)), float64(i+1)))
	}

	parts := Partition(prices, 50)
	if len(parts) != 3 {
		t.Fatalf("Expected 3 sub-batches for 120 prices at max 50, got %d", len(parts))
	}

	total := 0
	for _, p := range parts {
		if len(p) > 50 {
			t.Errorf("Sub-batch exceeds max size: %d", len(p))
		}
		total += len(p)
	}
	if total != 120 {
		t.Errorf("Partitioning lost or duplicated prices: %d != 120", total)
	}
}

func TestPartitionSingleBatch(t *testing.T) {
	parts := Partition([]feed.AggregatedPrice{aggPrice("BTCUSDT", 1)}, 50)
	if len(parts) != 1 || len(parts[0]) != 1 {
		t.Errorf("Expected one sub-batch with one price, got %v", parts)
	}
}

// ============================================================================
// Status tracking
// ============================================================================

func TestTerminalStatesAreImmutable(t *testing.T) {
	tracker := NewStatusTracker()
	id := uuid.New()
	tracker.Track(id, 3)

	tracker.Update(id, func(st *feed.BatchStatus) { st.State = feed.BatchStateFailed })
	if ok := tracker.Update(id, func(st *feed.BatchStatus) { st.State = feed.BatchStateConfirmed }); ok {
		t.Error("Update against a terminal state must be rejected")
	}

	status, _ := tracker.Get(id)
	if status.State != feed.BatchStateFailed {
		t.Errorf("Terminal state changed: %s", status.State)
	}
}

func TestUnknownIsNotTerminal(t *testing.T) {
	tracker := NewStatusTracker()
	id := uuid.New()
	tracker.Track(id, 1)

	tracker.Update(id, func(st *feed.BatchStatus) { st.State = feed.BatchStateUnknown })
	if ok := tracker.Update(id, func(st *feed.BatchStatus) { st.State = feed.BatchStateConfirmed }); !ok {
		t.Error("Unknown must remain upgradeable to Confirmed")
	}
}

// ============================================================================
// Submission flow against a fake RPC node
// ============================================================================

// fakeNode simulates the subset of the Neo JSON-RPC surface the
// submitter touches. The first sendrawtransaction can be forced to
// fail to exercise the retry path.
type fakeNode struct {
	sendFailures int32 // remaining sendrawtransaction failures
	sendCalls    int32
	confirmAfter int32 // getrawtransaction calls before confirming
	pollCalls    int32
}

func (f *fakeNode) handler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     int64         `json:"id"`
		Method string        `json:"method"`
		Params []interface{} `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	reply := func(result interface{}) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID, "result": result,
		})
	}

	switch req.Method {
	case "getblockcount":
		reply(1000)
	case "invokescript":
		reply(map[string]interface{}{"state": "HALT", "gasconsumed": "997700"})
	case "calculatenetworkfee":
		reply(map[string]interface{}{"networkfee": "234500"})
	case "sendrawtransaction":
		atomic.AddInt32(&f.sendCalls, 1)
		if atomic.AddInt32(&f.sendFailures, -1) >= 0 {
			http.Error(w, "upstream hiccup", http.StatusInternalServerError)
			return
		}
		reply(map[string]interface{}{"hash": "0xabc123"})
	case "getrawtransaction":
		if atomic.AddInt32(&f.pollCalls, 1) > atomic.LoadInt32(&f.confirmAfter) {
			reply(map[string]interface{}{"confirmations": 1, "blockhash": "0xblock"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]interface{}{"code": -100, "message": "Unknown transaction"},
		})
	default:
		http.Error(w, "unexpected method "+req.Method, http.StatusBadRequest)
	}
}

func newTestSubmitter(t *testing.T, node *fakeNode) (*Submitter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(node.handler))

	tee, err := neo.NewAccount()
	if err != nil {
		t.Fatalf("Failed to create TEE account: %v", err)
	}
	master, err := neo.NewAccount()
	if err != nil {
		t.Fatalf("Failed to create master account: %v", err)
	}

	cfg := DefaultConfig()
	cfg.TEEAccount = tee
	cfg.MasterAccount = master
	cfg.NetworkMagic = 894710606
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ConfirmTimeout = 2 * time.Second

	sub, err := New(neo.NewClient(srv.URL, 5*time.Second, nil), nil, cfg)
	if err != nil {
		t.Fatalf("Failed to create submitter: %v", err)
	}
	return sub, srv
}

func TestEmptyBatchIsRejected(t *testing.T) {
	node := &fakeNode{}
	sub, srv := newTestSubmitter(t, node)
	defer srv.Close()

	_, err := sub.ProcessBatch(context.Background(), feed.NewPriceBatch(nil))
	if !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("Expected ErrEmptyBatch, got %v", err)
	}
}

func TestSubmissionRetriesThenConfirms(t *testing.T) {
	node := &fakeNode{sendFailures: 1, confirmAfter: 1}
	sub, srv := newTestSubmitter(t, node)
	defer srv.Close()

	batch := feed.NewPriceBatch([]feed.AggregatedPrice{aggPrice("BTCUSDT", 50000)})
	statuses, err := sub.ProcessBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("Expected one sub-batch status, got %d", len(statuses))
	}

	status := statuses[0]
	if status.State != feed.BatchStateConfirmed {
		t.Errorf("Expected Confirmed after retry, got %s (%s)", status.State, status.LastError)
	}
	if status.TxHash != "0xabc123" {
		t.Errorf("Expected tracked tx hash 0xabc123, got %s", status.TxHash)
	}
	if calls := atomic.LoadInt32(&node.sendCalls); calls != 2 {
		t.Errorf("Expected 2 sendrawtransaction calls (1 failure + 1 success), got %d", calls)
	}
}

func TestNonPositivePricesAreSkipped(t *testing.T) {
	node := &fakeNode{}
	sub, srv := newTestSubmitter(t, node)
	defer srv.Close()

	batch := feed.NewPriceBatch([]feed.AggregatedPrice{
		aggPrice("BTCUSDT", 50000),
		aggPrice("BADUSDT", 0),
	})
	statuses, err := sub.ProcessBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if statuses[0].ProcessedCount != 1 {
		t.Errorf("Expected 1 processed price after skipping the zero, got %d", statuses[0].ProcessedCount)
	}
}

func TestOverflowingPriceStillSubmits(t *testing.T) {
	node := &fakeNode{}
	sub, srv := newTestSubmitter(t, node)
	defer srv.Close()

	batch := feed.NewPriceBatch([]feed.AggregatedPrice{aggPrice("BTCUSDT", 1e14)})
	statuses, err := sub.ProcessBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if statuses[0].State != feed.BatchStateConfirmed {
		t.Errorf("Clamped price should still confirm, got %s", statuses[0].State)
	}
}
