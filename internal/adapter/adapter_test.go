package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() BulkExecutionRequest {
	return BulkExecutionRequest{
		BulkTransferID: "bulk-abc123",
		PayerFsp:       "ACC-PAYER",
		IndividualTransfers: []IndividualExecutionRequest{
			{
				TransferID:     "tr-1",
				TransferAmount: Amount{Amount: "100", Currency: "XOF"},
				Payee: Party{PartyIDInfo: PartyIDInfo{
					PartyIDType:     "MSISDN",
					PartyIdentifier: "22507000001",
				}},
			},
		},
	}
}

func TestNewHTTPAdapterRequiresBaseURL(t *testing.T) {
	_, err := NewHTTPAdapter("", time.Second)
	require.Error(t, err)

	_, err = NewHTTPAdapter("   ", time.Second)
	require.Error(t, err)

	a, err := NewHTTPAdapter("http://adapter:4000/", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "http://adapter:4000", a.baseURL)
}

func TestExecuteBulkTransfers(t *testing.T) {
	var got BulkExecutionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/bulkTransfers", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	a, err := NewHTTPAdapter(srv.URL, 2*time.Second)
	require.NoError(t, err)

	require.NoError(t, a.ExecuteBulkTransfers(context.Background(), testRequest()))
	assert.Equal(t, "bulk-abc123", got.BulkTransferID)
	require.Len(t, got.IndividualTransfers, 1)
	assert.Equal(t, "100", got.IndividualTransfers[0].TransferAmount.Amount)
	assert.Equal(t, "MSISDN", got.IndividualTransfers[0].Payee.PartyIDInfo.PartyIDType)
}

func TestExecuteBulkTransfersRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	a, err := NewHTTPAdapter(srv.URL, 2*time.Second)
	require.NoError(t, err)

	require.NoError(t, a.ExecuteBulkTransfers(context.Background(), testRequest()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecuteBulkTransfersExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a, err := NewHTTPAdapter(srv.URL, 2*time.Second)
	require.NoError(t, err)

	err = a.ExecuteBulkTransfers(context.Background(), testRequest())
	require.ErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, int32(4), calls.Load(), "initial call plus three retries")
}

func TestExecuteBulkTransfersRejectionIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a, err := NewHTTPAdapter(srv.URL, 2*time.Second)
	require.NoError(t, err)

	err = a.ExecuteBulkTransfers(context.Background(), testRequest())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, int32(1), calls.Load(), "rejected payloads are not retried")
}

func TestExecuteBulkTransfersConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens on the address anymore

	a, err := NewHTTPAdapter(srv.URL, 500*time.Millisecond)
	require.NoError(t, err)
	a.maxRetries = 1

	err = a.ExecuteBulkTransfers(context.Background(), testRequest())
	require.ErrorIs(t, err, ErrUnreachable)
}

func TestLookupParty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/parties/MSISDN/22507000001", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, err := NewHTTPAdapter(srv.URL, time.Second)
	require.NoError(t, err)
	require.NoError(t, a.LookupParty(context.Background(), "MSISDN", "22507000001"))
}

func TestLookupPartyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a, err := NewHTTPAdapter(srv.URL, time.Second)
	require.NoError(t, err)
	require.ErrorIs(t, a.LookupParty(context.Background(), "MSISDN", "x"), ErrUnreachable)
}
