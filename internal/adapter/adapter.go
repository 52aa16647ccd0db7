package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ErrUnreachable wraps every transport-level dispatch failure. Callers
// treat it as non-fatal: the transfer stays PENDING until a callback or a
// later reconciliation decides its fate.
var ErrUnreachable = errors.New("scheme adapter unreachable")

// PartyIDInfo identifies a payee inside the scheme.
type PartyIDInfo struct {
	PartyIDType     string `json:"partyIdType"`
	PartyIdentifier string `json:"partyIdentifier"`
}

// Party wraps the party identification for the wire format.
type Party struct {
	PartyIDInfo PartyIDInfo `json:"partyIdInfo"`
}

// Amount is the scheme wire amount: minor units as a decimal string.
type Amount struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// IndividualExecutionRequest is one transfer inside a bulk execution.
type IndividualExecutionRequest struct {
	TransferID     string `json:"transferId"`
	TransferAmount Amount `json:"transferAmount"`
	Payee          Party  `json:"payee"`
}

// BulkExecutionRequest asks the adapter to execute a batch.
type BulkExecutionRequest struct {
	BulkTransferID      string                       `json:"bulkTransferId"`
	PayerFsp            string                       `json:"payerFsp"`
	IndividualTransfers []IndividualExecutionRequest `json:"individualTransfers"`
}

// SchemeAdapter is the outbound contract to the external payment-scheme
// adapter. Outcomes arrive later through settlement callbacks; these calls
// only request execution.
type SchemeAdapter interface {
	// LookupParty asks the adapter to resolve a payee. Best effort: the
	// adapter performs its own discovery during execution regardless.
	LookupParty(ctx context.Context, idType, identifier string) error

	// ExecuteBulkTransfers submits a batch for execution.
	ExecuteBulkTransfers(ctx context.Context, req BulkExecutionRequest) error
}

// HTTPAdapter talks to the scheme adapter over HTTP. The base URL is
// injected at construction; there is no ambient process-level default.
type HTTPAdapter struct {
	baseURL    string
	client     *http.Client
	maxRetries uint64
}

// NewHTTPAdapter builds an adapter client for the given base URL.
func NewHTTPAdapter(baseURL string, timeout time.Duration) (*HTTPAdapter, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("adapter base url is required")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid adapter base url: %w", err)
	}
	return &HTTPAdapter{
		baseURL:    trimmed,
		client:     &http.Client{Timeout: timeout},
		maxRetries: 3,
	}, nil
}

// LookupParty issues GET /parties/{type}/{id}.
func (a *HTTPAdapter) LookupParty(ctx context.Context, idType, identifier string) error {
	endpoint := fmt.Sprintf("%s/parties/%s/%s", a.baseURL, url.PathEscape(idType), url.PathEscape(identifier))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build party lookup request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer drainAndClose(resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: party lookup returned %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

// ExecuteBulkTransfers issues POST /bulkTransfers with bounded retries on
// transport failures and 5xx responses.
func (a *HTTPAdapter) ExecuteBulkTransfers(ctx context.Context, bulkReq BulkExecutionRequest) error {
	payload, err := json.Marshal(bulkReq)
	if err != nil {
		return fmt.Errorf("encode bulk execution request: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/bulkTransfers", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build bulk execution request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		defer drainAndClose(resp.Body)

		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: bulk execution returned %d", ErrUnreachable, resp.StatusCode)
		case resp.StatusCode >= http.StatusBadRequest:
			// A rejected payload will not improve on retry.
			return backoff.Permanent(fmt.Errorf("bulk execution rejected with %d", resp.StatusCode))
		default:
			return nil
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(a.retryBackOff(), a.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		zap.L().Warn("bulk execution dispatch failed",
			zap.String("bulk_transfer_id", bulkReq.BulkTransferID),
			zap.Int("transfers", len(bulkReq.IndividualTransfers)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (a *HTTPAdapter) retryBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 15 * time.Second
	return bo
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
