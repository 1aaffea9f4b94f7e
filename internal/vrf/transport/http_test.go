package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/raffled/internal/storage"
	"github.com/pendergraft/raffled/internal/vrf/domain"
)

var (
	owner    = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	consumer = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

func setupCoordinator(t *testing.T) *domain.Coordinator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "vrf.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	key, err := domain.LoadKey("")
	require.NoError(t, err)
	return domain.NewCoordinator(store, key, logger)
}

func setupRouter(svc Service) *chi.Mux {
	r := chi.NewRouter()
	h := NewHandler(svc)
	r.Route("/vrf", func(r chi.Router) {
		h.RegisterReadRoutes(r)
		h.RegisterWriteRoutes(r)
	})
	return r
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Info(t *testing.T) {
	coord := setupCoordinator(t)
	router := setupRouter(coord)

	rec := doRequest(t, router, "GET", "/vrf/", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, coord.Address().Hex(), resp["address"])
	assert.Equal(t, float64(domain.MinConfirmations), resp["minConfirmations"])
}

func TestHandler_Subscriptions(t *testing.T) {
	router := setupRouter(setupCoordinator(t))

	rec := doRequest(t, router, "POST", "/vrf/subscriptions", `{"owner":"`+owner.Hex()+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var sub SubscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, owner.Hex(), sub.Owner)
	assert.Equal(t, "0", sub.Balance)

	rec = doRequest(t, router, "POST", "/vrf/subscriptions/1/fund", `{"amount":"2 ether"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, "2000000000000000000", sub.Balance)

	rec = doRequest(t, router, "POST", "/vrf/subscriptions/1/consumers", `{"consumer":"`+consumer.Hex()+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, []string{consumer.Hex()}, sub.Consumers)

	rec = doRequest(t, router, "GET", "/vrf/subscriptions/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
	}{
		{"unknown subscription", "GET", "/vrf/subscriptions/42", "", http.StatusNotFound},
		{"bad id", "GET", "/vrf/subscriptions/abc", "", http.StatusBadRequest},
		{"bad owner", "POST", "/vrf/subscriptions", `{"owner":"nope"}`, http.StatusBadRequest},
		{"zero amount", "POST", "/vrf/subscriptions/1/fund", `{"amount":"0"}`, http.StatusBadRequest},
		{"fund unknown", "POST", "/vrf/subscriptions/42/fund", `{"amount":"1"}`, http.StatusNotFound},
		{"bad consumer", "POST", "/vrf/subscriptions/1/consumers", `{"consumer":""}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestHandler_RequestLifecycle(t *testing.T) {
	ctx := context.Background()
	coord := setupCoordinator(t)
	router := setupRouter(coord)

	sub, err := coord.CreateSubscription(ctx, owner)
	require.NoError(t, err)
	_, err = coord.AddConsumer(ctx, sub.ID, consumer)
	require.NoError(t, err)

	var delivered []*big.Int
	coord.RegisterConsumer(consumer, domain.ConsumerFunc(func(ctx context.Context, caller common.Address, requestID *big.Int, words []*big.Int) error {
		delivered = words
		return nil
	}))

	id, err := coord.RequestRandomWords(ctx, domain.RequestParams{
		SubscriptionID:   sub.ID,
		Confirmations:    3,
		CallbackGasLimit: 500000,
		NumWords:         2,
		Consumer:         consumer,
	})
	require.NoError(t, err)

	rec := doRequest(t, router, "GET", "/vrf/requests", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pending struct {
		Data []RequestResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Len(t, pending.Data, 1)
	assert.Equal(t, domain.StatusPending, pending.Data[0].Status)

	rec = doRequest(t, router, "GET", "/vrf/requests/1/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var verify VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verify))
	assert.False(t, verify.Valid)

	rec = doRequest(t, router, "POST", "/vrf/requests/1/fulfill", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var served RequestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &served))
	assert.Equal(t, id, served.ID)
	assert.Equal(t, domain.StatusFulfilled, served.Status)
	require.NotNil(t, served.Proof)
	require.Len(t, served.Words, 2)
	require.Len(t, delivered, 2)
	assert.Equal(t, delivered[0].String(), served.Words[0])

	rec = doRequest(t, router, "GET", "/vrf/requests/1/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verify))
	assert.True(t, verify.Valid, verify.Reason)
	assert.Equal(t, coord.Address().Hex(), verify.Coordinator)

	rec = doRequest(t, router, "POST", "/vrf/requests/1/fulfill", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, router, "GET", "/vrf/requests/9", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
