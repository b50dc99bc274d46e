// Copyright 2025 Certen Protocol
//
// Batch Submitter - turns aggregated prices into dual-signed
// updatePriceBatch transactions.
//
// The submitter:
// - Partitions a price batch into sub-batches bounded by MaxBatchSize
// - Scales prices to the on-chain integer representation
// - Builds, signs (TEE + Master), and submits one transaction per
//   sub-batch, retrying transient failures with exponential backoff
// - Polls for confirmation and tracks status in memory
// - Optionally sweeps NEP-17 assets off the TEE account

package submitter

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	mrand "math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tee-oracle/neo-price-feed/pkg/attestation"
	"github.com/tee-oracle/neo-price-feed/pkg/feed"
	"github.com/tee-oracle/neo-price-feed/pkg/neo"
)

const (
	retryBackoffBase   = 1000 * time.Millisecond
	retryBackoffMult   = 2
	retryJitterMax     = 500 * time.Millisecond
	defaultMaxAttempts = 3
)

// Config holds submitter configuration.
type Config struct {
	TEEAccount     *neo.Account
	MasterAccount  *neo.Account
	Contract       [20]byte
	NetworkMagic   uint32
	MaxBatchSize   int
	MaxFeePerBatch int64 // cap for each of system and network fee, 1e-8 GAS
	VUBOffset      uint32
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
	MaxAttempts    int
	SweepTeeAssets bool
	Logger         *log.Logger
}

// DefaultConfig returns default configuration; accounts and contract
// must still be supplied.
func DefaultConfig() *Config {
	return &Config{
		MaxBatchSize:   50,
		MaxFeePerBatch: 10_0000_0000,
		VUBOffset:      100,
		PollInterval:   2 * time.Second,
		ConfirmTimeout: 90 * time.Second,
		MaxAttempts:    defaultMaxAttempts,
		Logger:         log.New(log.Writer(), "[Submitter] ", log.LstdFlags),
	}
}

// Submitter submits price batches to the oracle contract.
type Submitter struct {
	client  *neo.Client
	attest  *attestation.Store
	tracker *StatusTracker
	cfg     *Config
	logger  *log.Logger
}

// New creates a submitter.
func New(client *neo.Client, attest *attestation.Store, cfg *Config) (*Submitter, error) {
	if client == nil {
		return nil, fmt.Errorf("rpc client cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.TEEAccount == nil || cfg.MasterAccount == nil {
		return nil, fmt.Errorf("both TEE and master accounts are required")
	}
	if cfg.MaxBatchSize < 1 || cfg.MaxBatchSize > 100 {
		return nil, fmt.Errorf("max batch size must be in [1, 100], got %d", cfg.MaxBatchSize)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 90 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Submitter] ", log.LstdFlags)
	}

	return &Submitter{
		client:  client,
		attest:  attest,
		tracker: NewStatusTracker(),
		cfg:     cfg,
		logger:  cfg.Logger,
	}, nil
}

// Tracker exposes the in-memory status map to readers.
func (s *Submitter) Tracker() *StatusTracker { return s.tracker }

// GetBatchStatus returns the status of one sub-batch.
func (s *Submitter) GetBatchStatus(batchID uuid.UUID) (feed.BatchStatus, bool) {
	return s.tracker.Get(batchID)
}

// Partition splits prices into sub-batches of at most maxSize. Every
// price appears in exactly one sub-batch.
func Partition(prices []feed.AggregatedPrice, maxSize int) [][]feed.AggregatedPrice {
	var out [][]feed.AggregatedPrice
	for start := 0; start < len(prices); start += maxSize {
		end := start + maxSize
		if end > len(prices) {
			end = len(prices)
		}
		out = append(out, prices[start:end])
	}
	return out
}

// ProcessBatch submits every sub-batch of the given price batch. An
// empty batch is a programmer error, not a no-op.
func (s *Submitter) ProcessBatch(ctx context.Context, batch feed.PriceBatch) ([]feed.BatchStatus, error) {
	if len(batch.Prices) == 0 {
		return nil, ErrEmptyBatch
	}

	subBatches := Partition(batch.Prices, s.cfg.MaxBatchSize)
	s.logger.Printf("Processing batch %s: %d prices in %d sub-batch(es)",
		batch.BatchID, len(batch.Prices), len(subBatches))

	statuses := make([]feed.BatchStatus, 0, len(subBatches))
	for i, prices := range subBatches {
		subID := batch.BatchID
		if len(subBatches) > 1 {
			subID = uuid.New()
		}
		s.tracker.Track(subID, len(prices))

		if err := s.submitWithRetry(ctx, subID, prices); err != nil {
			s.logger.Printf("Warning: sub-batch %d/%d (%s) failed: %v", i+1, len(subBatches), subID, err)
		}

		status, _ := s.tracker.Get(subID)
		statuses = append(statuses, status)
		s.writeAttestation(subID, status, prices)
	}

	if s.cfg.SweepTeeAssets {
		if err := s.sweepTeeAssets(ctx); err != nil {
			s.logger.Printf("Warning: TEE asset sweep failed: %v", err)
		}
	}
	return statuses, nil
}

// submitWithRetry drives one sub-batch through submission and
// confirmation, retrying transient failures with exponential backoff.
// Construction errors abort immediately.
func (s *Submitter) submitWithRetry(ctx context.Context, subID uuid.UUID, prices []feed.AggregatedPrice) error {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBackoffBase
			for i := 1; i < attempt; i++ {
				delay *= retryBackoffMult
			}
			delay += time.Duration(mrand.Int63n(int64(retryJitterMax)))
			s.logger.Printf("Warning: retrying sub-batch %s (attempt %d/%d) after %s: %v",
				subID, attempt+1, s.cfg.MaxAttempts, delay, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				lastErr = ctx.Err()
				break
			}
		}

		done, err := s.submitOnce(ctx, subID, prices)
		if done {
			return err
		}
		lastErr = err
		if IsConstruction(err) {
			break
		}
	}

	s.tracker.Update(subID, func(st *feed.BatchStatus) {
		st.State = feed.BatchStateFailed
		if lastErr != nil {
			st.LastError = lastErr.Error()
		}
	})
	return lastErr
}

// submitOnce builds, signs, submits, and confirms one transaction. The
// first return reports whether the outcome is final (no further
// retries), independent of success.
func (s *Submitter) submitOnce(ctx context.Context, subID uuid.UUID, prices []feed.AggregatedPrice) (bool, error) {
	tx, included, err := s.buildTransaction(ctx, prices)
	if err != nil {
		return false, err
	}

	txHash, err := s.client.SendRawTransaction(ctx, tx.Serialize())
	if err != nil {
		var rpcErr *neo.RPCError
		if errors.As(err, &rpcErr) {
			return false, fmt.Errorf("submission rejected: %w", rpcErr)
		}
		return false, fmt.Errorf("submission failed: %w", err)
	}
	if txHash == "" {
		txHash = tx.Hash()
	}

	s.tracker.Update(subID, func(st *feed.BatchStatus) {
		st.State = feed.BatchStateSubmitted
		st.TxHash = txHash
		st.ProcessedCount = included
	})
	s.logger.Printf("Sub-batch %s submitted as %s (%d prices)", subID, txHash, included)

	confirmed, err := s.pollConfirmation(ctx, txHash)
	if err != nil {
		return true, err
	}
	if confirmed {
		s.tracker.Update(subID, func(st *feed.BatchStatus) {
			st.State = feed.BatchStateConfirmed
		})
		s.logger.Printf("Sub-batch %s confirmed", subID)
		return true, nil
	}

	// The transaction may still land; Unknown is deliberately not a
	// terminal state.
	s.tracker.Update(subID, func(st *feed.BatchStatus) {
		st.State = feed.BatchStateUnknown
	})
	s.logger.Printf("Warning: sub-batch %s confirmation timed out, status unknown", subID)
	return true, nil
}

// buildTransaction assembles and dual-signs an updatePriceBatch call.
// The int return is the number of prices that survived scaling.
func (s *Submitter) buildTransaction(ctx context.Context, prices []feed.AggregatedPrice) (*neo.Transaction, int, error) {
	var symbols, scaledPrices, timestamps, confidences []neo.Param
	for _, p := range prices {
		scaled, clamped := ScalePrice(p.Price)
		if scaled <= 0 {
			s.logger.Printf("Warning: skipping %s: non-positive price %s", p.Symbol, p.Price)
			continue
		}
		if clamped {
			s.logger.Printf("Warning: price %s for %s exceeds the on-chain range, clamped", p.Price, p.Symbol)
		}
		symbols = append(symbols, neo.StringParam(p.Symbol))
		scaledPrices = append(scaledPrices, neo.IntParam(scaled))
		timestamps = append(timestamps, neo.IntParam(p.Timestamp.Unix()))
		confidences = append(confidences, neo.IntParam(int64(p.ConfidenceScore)))
	}
	if len(symbols) == 0 {
		return nil, 0, &ConstructionError{Err: fmt.Errorf("no prices survived scaling")}
	}

	sb := neo.NewScriptBuilder()
	sb.EmitContractCall(s.cfg.Contract, "updatePriceBatch",
		neo.ArrayParam(symbols...),
		neo.ArrayParam(scaledPrices...),
		neo.ArrayParam(timestamps...),
		neo.ArrayParam(confidences...),
	)
	script := sb.Bytes()

	// The master account is the sender and pays the network fee; the
	// TEE witness proves the run happened inside the enclave.
	signers := []neo.Signer{
		{Account: s.cfg.MasterAccount.ScriptHash, Scope: neo.WitnessScopeCalledByEntry},
		{Account: s.cfg.TEEAccount.ScriptHash, Scope: neo.WitnessScopeCalledByEntry},
	}

	height, err := s.client.GetBlockCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get chain height: %w", err)
	}

	invoke, err := s.client.InvokeScript(ctx, script, signers)
	if err != nil {
		return nil, 0, fmt.Errorf("fee estimation failed: %w", err)
	}
	if invoke.Faulted() {
		return nil, 0, &ConstructionError{Err: fmt.Errorf("test invocation faulted: %s", invoke.Exception)}
	}
	systemFee, err := invoke.GasConsumedInt()
	if err != nil {
		return nil, 0, &ConstructionError{Err: fmt.Errorf("malformed gas estimate: %w", err)}
	}
	systemFee = s.clampFee("system", systemFee)

	tx := &neo.Transaction{
		Version:         0,
		Nonce:           randomNonce(),
		SystemFee:       systemFee,
		ValidUntilBlock: height + s.cfg.VUBOffset,
		Signers:         signers,
		Script:          script,
	}

	// Network fee estimation needs the witness slots populated;
	// placeholder witnesses carry the verification scripts only.
	tx.Witnesses = []neo.Witness{
		{Verification: neo.VerificationScript(s.cfg.MasterAccount.PublicKey)},
		{Verification: neo.VerificationScript(s.cfg.TEEAccount.PublicKey)},
	}
	networkFee, err := s.client.CalculateNetworkFee(ctx, tx.Serialize())
	if err != nil {
		return nil, 0, fmt.Errorf("network fee calculation failed: %w", err)
	}
	tx.NetworkFee = s.clampFee("network", networkFee)

	tx.Witnesses = nil
	if err := tx.SignWith(s.cfg.MasterAccount, s.cfg.NetworkMagic); err != nil {
		return nil, 0, &ConstructionError{Err: err}
	}
	if err := tx.SignWith(s.cfg.TEEAccount, s.cfg.NetworkMagic); err != nil {
		return nil, 0, &ConstructionError{Err: err}
	}
	return tx, len(symbols), nil
}

func (s *Submitter) clampFee(kind string, fee int64) int64 {
	if s.cfg.MaxFeePerBatch > 0 && fee > s.cfg.MaxFeePerBatch {
		s.logger.Printf("Warning: %s fee %d exceeds the per-batch maximum %d, clamped",
			kind, fee, s.cfg.MaxFeePerBatch)
		return s.cfg.MaxFeePerBatch
	}
	return fee
}

// pollConfirmation watches a transaction until it confirms or the
// window elapses.
func (s *Submitter) pollConfirmation(ctx context.Context, txHash string) (bool, error) {
	deadline := time.Now().Add(s.cfg.ConfirmTimeout)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		state, err := s.client.GetRawTransaction(ctx, txHash)
		if err == nil && state.Confirmations >= 1 {
			return true, nil
		}
		if err != nil && !errors.Is(err, neo.ErrTxNotFound) {
			s.logger.Printf("Warning: confirmation poll for %s failed: %v", txHash, err)
		}

		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false, nil
		}
	}
}

// ReconcileUnknown re-polls sub-batches left in the Unknown state and
// upgrades them to Confirmed when their transaction landed.
func (s *Submitter) ReconcileUnknown(ctx context.Context) int {
	upgraded := 0
	for _, id := range s.tracker.Unknown() {
		status, ok := s.tracker.Get(id)
		if !ok || status.TxHash == "" {
			continue
		}
		state, err := s.client.GetRawTransaction(ctx, status.TxHash)
		if err != nil || state.Confirmations < 1 {
			continue
		}
		if s.tracker.Update(id, func(st *feed.BatchStatus) {
			st.State = feed.BatchStateConfirmed
		}) {
			s.logger.Printf("Reconciled sub-batch %s to confirmed", id)
			upgraded++
		}
	}
	return upgraded
}

// sweepTeeAssets transfers any NEP-17 balance off the TEE account so it
// remains an unfunded identity.
func (s *Submitter) sweepTeeAssets(ctx context.Context) error {
	balances, err := s.client.GetNep17Balances(ctx, s.cfg.TEEAccount.Address)
	if err != nil {
		return fmt.Errorf("failed to read TEE balances: %w", err)
	}

	for _, bal := range balances {
		amount, err := strconv.ParseInt(bal.Amount, 10, 64)
		if err != nil || amount <= 0 {
			continue
		}
		asset, err := neo.Uint160FromHex(bal.AssetHash)
		if err != nil {
			s.logger.Printf("Warning: skipping sweep of malformed asset %s: %v", bal.AssetHash, err)
			continue
		}
		if err := s.sweepAsset(ctx, asset, amount); err != nil {
			s.logger.Printf("Warning: failed to sweep %d of %s: %v", amount, bal.AssetHash, err)
			continue
		}
		s.logger.Printf("Swept %d of %s from TEE account to master", amount, bal.AssetHash)
	}
	return nil
}

func (s *Submitter) sweepAsset(ctx context.Context, asset [20]byte, amount int64) error {
	sb := neo.NewScriptBuilder()
	sb.EmitContractCall(asset, "transfer",
		neo.BytesParam(s.cfg.TEEAccount.ScriptHash[:]),
		neo.BytesParam(s.cfg.MasterAccount.ScriptHash[:]),
		neo.IntParam(amount),
		neo.NullParam(),
	)
	script := sb.Bytes()

	signers := []neo.Signer{
		{Account: s.cfg.MasterAccount.ScriptHash, Scope: neo.WitnessScopeCalledByEntry},
		{Account: s.cfg.TEEAccount.ScriptHash, Scope: neo.WitnessScopeCalledByEntry},
	}

	height, err := s.client.GetBlockCount(ctx)
	if err != nil {
		return err
	}
	invoke, err := s.client.InvokeScript(ctx, script, signers)
	if err != nil {
		return err
	}
	if invoke.Faulted() {
		return fmt.Errorf("transfer invocation faulted: %s", invoke.Exception)
	}
	systemFee, err := invoke.GasConsumedInt()
	if err != nil {
		return err
	}

	tx := &neo.Transaction{
		Nonce:           randomNonce(),
		SystemFee:       s.clampFee("system", systemFee),
		ValidUntilBlock: height + s.cfg.VUBOffset,
		Signers:         signers,
		Script:          script,
	}
	tx.Witnesses = []neo.Witness{
		{Verification: neo.VerificationScript(s.cfg.MasterAccount.PublicKey)},
		{Verification: neo.VerificationScript(s.cfg.TEEAccount.PublicKey)},
	}
	networkFee, err := s.client.CalculateNetworkFee(ctx, tx.Serialize())
	if err != nil {
		return err
	}
	tx.NetworkFee = s.clampFee("network", networkFee)

	tx.Witnesses = nil
	if err := tx.SignWith(s.cfg.MasterAccount, s.cfg.NetworkMagic); err != nil {
		return err
	}
	if err := tx.SignWith(s.cfg.TEEAccount, s.cfg.NetworkMagic); err != nil {
		return err
	}

	_, err = s.client.SendRawTransaction(ctx, tx.Serialize())
	return err
}

// writeAttestation records the outcome of a sub-batch. Attestation
// failures never fail the feed.
func (s *Submitter) writeAttestation(subID uuid.UUID, status feed.BatchStatus, prices []feed.AggregatedPrice) {
	if s.attest == nil || status.TxHash == "" {
		return
	}
	symbols := make([]string, 0, len(prices))
	for _, p := range prices {
		symbols = append(symbols, p.Symbol)
	}
	_, err := s.attest.WritePriceFeedAttestation(subID.String(), status.TxHash, attestation.BatchSummary{
		SymbolCount:    len(symbols),
		Symbols:        symbols,
		ProcessedCount: status.ProcessedCount,
		TotalCount:     status.TotalCount,
	})
	if err != nil {
		s.logger.Printf("Warning: failed to write price feed attestation for %s: %v", subID, err)
	}
}

func randomNonce() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand exhaustion is effectively fatal elsewhere; a
		// time-derived nonce keeps uniqueness per transaction.
		return uint32(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint32(b[:])
}
