// Package sender delivers an eligibility result downstream, either to the
// badge API over HTTP or to a local JSON export.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/GustavoSena/ArenaBadges-sub001/internal/domain/model"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/fetch"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/metrics"
)

// Status is the delivery outcome. NoChanges is a success variant: the API
// already held these sets.
type Status string

const (
	StatusSent      Status = "sent"
	StatusNoChanges Status = "no_changes"
	StatusSkipped   Status = "skipped"
)

// Sender delivers one run's result. A rate-limit error from the API
// surfaces as a typed fetch error so the scheduler can reschedule sooner.
type Sender interface {
	Send(ctx context.Context, result *model.EligibilityResult) (Status, error)
}

type payload struct {
	RunID             string    `json:"runId"`
	GeneratedAt       time.Time `json:"generatedAt"`
	BasicHandles      []string  `json:"basicHandles"`
	UpgradedHandles   []string  `json:"upgradedHandles"`
	BasicAddresses    []string  `json:"basicAddresses"`
	UpgradedAddresses []string  `json:"upgradedAddresses"`
}

func buildPayload(result *model.EligibilityResult) payload {
	return payload{
		RunID:             result.RunID.String(),
		GeneratedAt:       result.GeneratedAt,
		BasicHandles:      result.SortedBasicHandles(),
		UpgradedHandles:   result.SortedUpgradedHandles(),
		BasicAddresses:    result.BasicAddresses,
		UpgradedAddresses: result.UpgradedAddresses,
	}
}

// HTTPSender posts the result to the badge API through a resilient fetch
// client, so transient API failures get the same retry treatment as
// provider fetches.
type HTTPSender struct {
	fetcher  *fetch.Client
	endpoint string
	token    string
	dryRun   bool
	logger   *slog.Logger
}

// NewHTTPSender creates an API sender. With dryRun set, Send logs the
// payload summary and returns StatusSkipped without touching the network.
func NewHTTPSender(endpoint, token string, fetcher *fetch.Client, dryRun bool, logger *slog.Logger) *HTTPSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSender{
		fetcher:  fetcher,
		endpoint: endpoint,
		token:    token,
		dryRun:   dryRun,
		logger:   logger.With("component", "sender"),
	}
}

type apiResponse struct {
	Status string `json:"status"`
}

// Send posts the result. The API answers "no_changes" when the submitted
// sets match what it already holds; that is not an error.
func (s *HTTPSender) Send(ctx context.Context, result *model.EligibilityResult) (Status, error) {
	if s.dryRun {
		s.logger.Info("dry run, skipping send",
			"run_id", result.RunID,
			"basic_handles", len(result.BasicHandles),
			"upgraded_handles", len(result.UpgradedHandles),
		)
		metrics.SendsTotal.WithLabelValues(string(StatusSkipped)).Inc()
		return StatusSkipped, nil
	}

	body, err := json.Marshal(buildPayload(result))
	if err != nil {
		return "", fmt.Errorf("marshal result payload: %w", err)
	}

	var resp apiResponse
	build := func(_ string) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, s.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if s.token != "" {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}
		return req, nil
	}
	decode := func(raw []byte) error {
		if len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("unmarshal api response: %w", err)
		}
		return nil
	}

	if err := s.fetcher.Do(ctx, build, decode); err != nil {
		metrics.SendsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("send result: %w", err)
	}

	if strings.EqualFold(resp.Status, "no_changes") || strings.EqualFold(resp.Status, "no changes") {
		s.logger.Info("result already current downstream", "run_id", result.RunID)
		metrics.SendsTotal.WithLabelValues(string(StatusNoChanges)).Inc()
		return StatusNoChanges, nil
	}

	s.logger.Info("result sent",
		"run_id", result.RunID,
		"basic_handles", len(result.BasicHandles),
		"upgraded_handles", len(result.UpgradedHandles),
	)
	metrics.SendsTotal.WithLabelValues(string(StatusSent)).Inc()
	return StatusSent, nil
}

// ExportSender writes the result as pretty-printed JSON under a directory,
// one file per run. It exists for export-only operation and for inspecting
// what an HTTP send would have carried.
type ExportSender struct {
	dir    string
	nowFn  func() time.Time
	logger *slog.Logger
}

// NewExportSender creates a file exporter rooted at dir.
func NewExportSender(dir string, logger *slog.Logger) *ExportSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportSender{
		dir:    dir,
		nowFn:  time.Now,
		logger: logger.With("component", "export"),
	}
}

// Send writes the payload to <dir>/eligibility-<timestamp>.json.
func (s *ExportSender) Send(_ context.Context, result *model.EligibilityResult) (Status, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	data, err := json.MarshalIndent(buildPayload(result), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal export payload: %w", err)
	}

	name := fmt.Sprintf("eligibility-%s.json", s.nowFn().UTC().Format("20060102T150405Z"))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}

	s.logger.Info("result exported", "run_id", result.RunID, "path", path)
	metrics.SendsTotal.WithLabelValues(string(StatusSent)).Inc()
	return StatusSent, nil
}

// MultiSender fans one result out to several senders in order. The first
// error stops the fan-out; earlier senders have already delivered.
type MultiSender struct {
	senders []Sender
}

// NewMultiSender composes senders. With none configured, Send reports
// StatusSkipped.
func NewMultiSender(senders ...Sender) *MultiSender {
	return &MultiSender{senders: senders}
}

// Send delivers to every configured sender and reports the last status.
func (m *MultiSender) Send(ctx context.Context, result *model.EligibilityResult) (Status, error) {
	status := StatusSkipped
	for _, s := range m.senders {
		var err error
		status, err = s.Send(ctx, result)
		if err != nil {
			return status, err
		}
	}
	return status, nil
}
