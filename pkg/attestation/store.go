// Copyright 2025 Certen Protocol
//
// Attestation Store - file-based proof that oracle actions happened
// inside a specific TEE run.
//
// The store:
// - Writes signed JSON records for account generation and each
//   submitted price batch
// - Verifies records by recomputing the deterministic signature
// - Removes records older than the retention window

package attestation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tee-oracle/neo-price-feed/pkg/config"
)

const (
	// TypeAccountGeneration marks an attestation of TEE account creation.
	TypeAccountGeneration = "account_generation"
	// TypePriceFeed marks an attestation of one submitted price batch.
	TypePriceFeed = "price_feed"

	accountSubdir   = "account"
	priceFeedSubdir = "price_feed"
)

// ErrSignatureMismatch is returned when a record's signature does not
// match its content.
var ErrSignatureMismatch = errors.New("attestation signature mismatch")

// BatchSummary captures what was submitted in an attested batch.
type BatchSummary struct {
	SymbolCount    int      `json:"symbol_count"`
	Symbols        []string `json:"symbols"`
	ProcessedCount int      `json:"processed_count"`
	TotalCount     int      `json:"total_count"`
}

// Record is the on-disk attestation shape. The signature covers every
// other field.
type Record struct {
	Type           string        `json:"type"`
	AccountAddress string        `json:"account_address,omitempty"`
	BatchID        string        `json:"batch_id,omitempty"`
	TxHash         string        `json:"tx_hash,omitempty"`
	Summary        *BatchSummary `json:"summary,omitempty"`
	RunID          string        `json:"run_id"`
	RunNumber      string        `json:"run_number"`
	RepoOwner      string        `json:"repo_owner"`
	RepoName       string        `json:"repo_name"`
	Workflow       string        `json:"workflow"`
	Timestamp      time.Time     `json:"timestamp"`
	Signature      string        `json:"signature"`
}

// Store writes and verifies attestation records under a base directory.
type Store struct {
	baseDir string
	runEnv  config.RunEnvironment
	logger  *log.Logger
}

// NewStore creates the store and its subdirectories.
func NewStore(baseDir string, runEnv config.RunEnvironment, logger *log.Logger) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("attestation base directory must not be empty")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[Attestation] ", log.LstdFlags)
	}

	for _, sub := range []string{accountSubdir, priceFeedSubdir} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create attestation directory: %w", err)
		}
	}

	return &Store{baseDir: baseDir, runEnv: runEnv, logger: logger}, nil
}

// WriteAccountAttestation records that the given TEE account was
// generated during this run. The file is named after the run ID.
func (s *Store) WriteAccountAttestation(address string) (string, error) {
	rec := s.newRecord(TypeAccountGeneration)
	rec.AccountAddress = address

	path := filepath.Join(s.baseDir, accountSubdir, s.runFileName())
	if err := s.writeRecord(path, rec); err != nil {
		return "", err
	}
	s.logger.Printf("Wrote account attestation for %s to %s", address, path)
	return path, nil
}

// WritePriceFeedAttestation records one submitted sub-batch.
func (s *Store) WritePriceFeedAttestation(batchID, txHash string, summary BatchSummary) (string, error) {
	rec := s.newRecord(TypePriceFeed)
	rec.BatchID = batchID
	rec.TxHash = txHash
	rec.Summary = &summary

	path := filepath.Join(s.baseDir, priceFeedSubdir, batchID+".json")
	if err := s.writeRecord(path, rec); err != nil {
		return "", err
	}
	s.logger.Printf("Wrote price feed attestation for batch %s to %s", batchID, path)
	return path, nil
}

// VerifyFile reads an attestation file and checks its signature.
func (s *Store) VerifyFile(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read attestation: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("malformed attestation: %w", err)
	}

	expected, err := s.Sign(rec)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(expected, rec.Signature) {
		return nil, ErrSignatureMismatch
	}
	return &rec, nil
}

// VerifyAccountAttestation verifies the current run's account record.
func (s *Store) VerifyAccountAttestation() (*Record, error) {
	return s.VerifyFile(filepath.Join(s.baseDir, accountSubdir, s.runFileName()))
}

// Sign computes the deterministic signature for a record: SHA-256 over
// the canonical JSON serialization (signature field emptied) joined
// with the run's commit SHA and actor.
func (s *Store) Sign(rec Record) (string, error) {
	rec.Signature = ""

	canonical, err := canonicalJSON(rec)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize record: %w", err)
	}

	dataToSign := canonical + "|" + s.runEnv.CommitSHA + "|" + s.runEnv.Actor
	sum := sha256.Sum256([]byte(dataToSign))
	return hex.EncodeToString(sum[:]), nil
}

// Cleanup removes attestation files older than retentionDays from both
// subdirectories and returns how many were removed.
func (s *Store) Cleanup(retentionDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0

	for _, sub := range []string{accountSubdir, priceFeedSubdir} {
		dir := filepath.Join(s.baseDir, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return removed, fmt.Errorf("failed to list %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				path := filepath.Join(dir, entry.Name())
				if err := os.Remove(path); err != nil {
					s.logger.Printf("Warning: failed to remove %s: %v", path, err)
					continue
				}
				removed++
			}
		}
	}

	if removed > 0 {
		s.logger.Printf("Removed %d attestation file(s) older than %d days", removed, retentionDays)
	}
	return removed, nil
}

func (s *Store) newRecord(recType string) Record {
	return Record{
		Type:      recType,
		RunID:     s.runEnv.RunID,
		RunNumber: s.runEnv.RunNumber,
		RepoOwner: s.runEnv.RepoOwner,
		RepoName:  s.runEnv.RepoName,
		Workflow:  s.runEnv.Workflow,
		Timestamp: time.Now().UTC(),
	}
}

func (s *Store) runFileName() string {
	runID := s.runEnv.RunID
	if runID == "" {
		runID = "local"
	}
	return runID + ".json"
}

// writeRecord signs the record and writes it atomically with 0600
// permissions.
func (s *Store) writeRecord(path string, rec Record) error {
	sig, err := s.Sign(rec)
	if err != nil {
		return err
	}
	rec.Signature = sig

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal attestation: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write attestation: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize attestation: %w", err)
	}
	return nil
}

// canonicalJSON serializes a record with stable key order and no
// insignificant whitespace. Round-tripping through a map delegates key
// sorting to encoding/json.
func canonicalJSON(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(canonical), nil
}
