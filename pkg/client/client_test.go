package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_Summary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/raffle" {
			t.Errorf("Expected path /api/v1/raffle, got %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET method, got %s", r.Method)
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Expected Accept header, got %s", r.Header.Get("Accept"))
		}

		json.NewEncoder(w).Encode(map[string]any{
			"entranceFee":     "10000000000000000",
			"state":           "OPEN",
			"round":           3,
			"numberOfPlayers": 2,
			"intervalSeconds": 30,
		})
	}))
	defer server.Close()

	client := New(server.URL, "")
	s, err := client.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}

	if s.State != "OPEN" {
		t.Errorf("Summary().State = %s, want OPEN", s.State)
	}
	if s.Round != 3 {
		t.Errorf("Summary().Round = %d, want 3", s.Round)
	}
	if s.NumberOfPlayers != 2 {
		t.Errorf("Summary().NumberOfPlayers = %d, want 2", s.NumberOfPlayers)
	}
	if s.EntranceFee != "10000000000000000" {
		t.Errorf("Summary().EntranceFee = %s, want 10000000000000000", s.EntranceFee)
	}
}

func TestClient_Enter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/raffle/enter" {
			t.Errorf("Expected path /api/v1/raffle/enter, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST method, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected JSON content type, got %s", r.Header.Get("Content-Type"))
		}

		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if req["player"] != "0x00000000000000000000000000000000000000a1" {
			t.Errorf("Expected player 0x...a1, got %s", req["player"])
		}
		if req["value"] != "0.01 ether" {
			t.Errorf("Expected value 0.01 ether, got %s", req["value"])
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"player":          req["player"],
			"value":           "10000000000000000",
			"numberOfPlayers": 1,
		})
	}))
	defer server.Close()

	client := New(server.URL, "")
	res, err := client.Enter(context.Background(), "0x00000000000000000000000000000000000000a1", "0.01 ether")
	if err != nil {
		t.Fatalf("Enter() error = %v", err)
	}
	if res.NumberOfPlayers != 1 {
		t.Errorf("Enter().NumberOfPlayers = %d, want 1", res.NumberOfPlayers)
	}
	if res.Value != "10000000000000000" {
		t.Errorf("Enter().Value = %s, want 10000000000000000", res.Value)
	}
}

func TestClient_PerformUpkeep(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/raffle/upkeep" {
			t.Errorf("Expected path /api/v1/raffle/upkeep, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST method, got %s", r.Method)
		}
		if r.Header.Get("X-API-Key") != "rf_key_test" {
			t.Errorf("Expected X-API-Key header, got %s", r.Header.Get("X-API-Key"))
		}

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"requestId": "42"})
	}))
	defer server.Close()

	client := New(server.URL, "rf_key_test")
	id, err := client.PerformUpkeep(context.Background())
	if err != nil {
		t.Fatalf("PerformUpkeep() error = %v", err)
	}
	if id != "42" {
		t.Errorf("PerformUpkeep() = %s, want 42", id)
	}
}

func TestClient_Events(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/raffle/events" {
			t.Errorf("Expected path /api/v1/raffle/events, got %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Errorf("Expected limit 5, got %s", got)
		}
		if got := r.URL.Query().Get("cursor"); got != "abc" {
			t.Errorf("Expected cursor abc, got %s", got)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "e1", "name": "RaffleEnter", "round": 1, "payload": map[string]string{"player": "0xa1"}},
			},
			"pagination": map[string]any{
				"limit":      5,
				"hasMore":    true,
				"nextCursor": "def",
			},
		})
	}))
	defer server.Close()

	client := New(server.URL, "")
	list, err := client.Events(context.Background(), ListOptions{Limit: 5, Cursor: "abc"})
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(list.Data) != 1 {
		t.Fatalf("Events() returned %d events, want 1", len(list.Data))
	}
	if list.Data[0].Name != "RaffleEnter" {
		t.Errorf("Events()[0].Name = %s, want RaffleEnter", list.Data[0].Name)
	}
	if list.Data[0].Payload["player"] != "0xa1" {
		t.Errorf("Events()[0].Payload[player] = %s, want 0xa1", list.Data[0].Payload["player"])
	}
	if !list.Pagination.HasMore || list.Pagination.NextCursor != "def" {
		t.Errorf("Events().Pagination = %+v, want hasMore with cursor def", list.Pagination)
	}
}

func TestClient_FulfillRandomWords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RequestID   string   `json:"requestId"`
			RandomWords []string `json:"randomWords"`
			Signature   string   `json:"signature"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if req.RequestID != "7" || len(req.RandomWords) != 1 || req.RandomWords[0] != "12345" || req.Signature != "0xabcd" {
			t.Errorf("Unexpected request %+v", req)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"requestId": "7",
			"round":     1,
			"winner":    "0x00000000000000000000000000000000000000a2",
			"amount":    "20000000000000000",
		})
	}))
	defer server.Close()

	client := New(server.URL, "rf_key_test")
	res, err := client.FulfillRandomWords(context.Background(), "7", []string{"12345"}, "0xabcd")
	if err != nil {
		t.Fatalf("FulfillRandomWords() error = %v", err)
	}
	if res.Winner != "0x00000000000000000000000000000000000000a2" {
		t.Errorf("FulfillRandomWords().Winner = %s", res.Winner)
	}
	if res.Amount != "20000000000000000" {
		t.Errorf("FulfillRandomWords().Amount = %s, want 20000000000000000", res.Amount)
	}
}

func TestClient_GetRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/vrf/requests/9" {
			t.Errorf("Expected path /api/v1/vrf/requests/9, got %s", r.URL.Path)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"id":             9,
			"subscriptionId": 1,
			"numWords":       1,
			"status":         "fulfilled",
			"words":          []string{"99"},
			"proof": map[string]any{
				"requestId": 9,
				"signature": "0xabcd",
			},
			"createdAt": "2024-01-15T10:30:00Z",
		})
	}))
	defer server.Close()

	client := New(server.URL, "")
	req, err := client.GetRequest(context.Background(), 9)
	if err != nil {
		t.Fatalf("GetRequest() error = %v", err)
	}
	if req.Status != "fulfilled" {
		t.Errorf("GetRequest().Status = %s, want fulfilled", req.Status)
	}
	if req.Proof == nil || req.Proof.Signature != "0xabcd" {
		t.Errorf("GetRequest().Proof = %+v, want signature 0xabcd", req.Proof)
	}
	if len(req.Words) != 1 || req.Words[0] != "99" {
		t.Errorf("GetRequest().Words = %v, want [99]", req.Words)
	}
}

func TestClient_SetRejectsFunds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/accounts/0x00000000000000000000000000000000000000a1/rejects" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var req map[string]bool
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if !req["rejects"] {
			t.Errorf("Expected rejects true")
		}
		json.NewEncoder(w).Encode(map[string]any{"rejects": true})
	}))
	defer server.Close()

	client := New(server.URL, "rf_key_test")
	if err := client.SetRejectsFunds(context.Background(), "0x00000000000000000000000000000000000000a1", true); err != nil {
		t.Fatalf("SetRejectsFunds() error = %v", err)
	}
}

func TestClient_ErrorHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"code":    "UPKEEP_NOT_NEEDED",
				"message": "upkeep not needed",
				"details": map[string]any{"balance": "0", "numPlayers": 0, "state": "OPEN"},
			},
		})
	}))
	defer server.Close()

	client := New(server.URL, "rf_key_test")
	_, err := client.PerformUpkeep(context.Background())
	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.Code != "UPKEEP_NOT_NEEDED" {
		t.Errorf("APIError.Code = %s, want UPKEEP_NOT_NEEDED", apiErr.Code)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Errorf("APIError.StatusCode = %d, want 409", apiErr.StatusCode)
	}
	if len(apiErr.Details) == 0 {
		t.Error("APIError.Details should carry the upkeep details")
	}
	if !IsCode(err, "UPKEEP_NOT_NEEDED") {
		t.Error("IsCode() = false, want true")
	}
}

func TestClient_ErrorWithoutEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "404 page not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := New(server.URL, "")
	_, err := client.Summary(context.Background())
	if !IsCode(err, "HTTP_404") {
		t.Errorf("Summary() error = %v, want HTTP_404", err)
	}
}

func TestClient_Options(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		json.NewEncoder(w).Encode(map[string]string{"version": "1.2.3", "apiVersion": "v1"})
	}))
	defer server.Close()

	client := New(server.URL+"/", "", WithUserAgent("raffle-cli/1.2.3"), WithHTTPClient(server.Client()))
	v, err := client.Version(context.Background())
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if v.Version != "1.2.3" {
		t.Errorf("Version().Version = %s, want 1.2.3", v.Version)
	}
	if gotUA != "raffle-cli/1.2.3" {
		t.Errorf("User-Agent = %s, want raffle-cli/1.2.3", gotUA)
	}
}
