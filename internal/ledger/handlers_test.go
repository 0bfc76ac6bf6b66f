package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/agrex/futures-ledger/internal/crop"
)

func newTestServer(t *testing.T) (*httptest.Server, *Service) {
	t.Helper()
	svc, _, _, _ := newTestService(t)
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, svc
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandleDeposit(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/deposit", map[string]string{
		"trader_id": "alice",
		"amount":    "100.50",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/api/v1/deposit", map[string]string{
		"trader_id": "alice",
		"amount":    "-5",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative amount status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/api/v1/deposit", map[string]string{
		"amount": "5",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing trader_id status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleCreateAndGetContract(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/contracts", map[string]string{
		"trader_id": "alice",
		"seller":    "bob",
		"crop":      "wheat",
		"quantity":  "100",
		"price":     "2.50",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	var created createContractResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ContractID != 1 {
		t.Fatalf("contract id = %d, want 1", created.ContractID)
	}

	getResp, err := http.Get(srv.URL + "/api/v1/contracts/1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", getResp.StatusCode)
	}
	var info ContractInfo
	if err := json.NewDecoder(getResp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Buyer != "alice" || info.Seller != "bob" || info.Crop != "WHEAT" {
		t.Errorf("unexpected contract info: %+v", info)
	}

	// Public payload carries no economic terms.
	raw, err := http.Get(srv.URL + "/api/v1/contracts/1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer raw.Body.Close()
	var fields map[string]any
	if err := json.NewDecoder(raw.Body).Decode(&fields); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, forbidden := range []string{"quantity", "price", "total_value", "encrypted_quantity", "encrypted_price", "encrypted_total_value"} {
		if _, ok := fields[forbidden]; ok {
			t.Errorf("response exposes %q", forbidden)
		}
	}
}

func TestHandleCreateContractBadCrop(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/contracts", map[string]string{
		"trader_id": "alice",
		"seller":    "bob",
		"crop":      "tulips",
		"quantity":  "100",
		"price":     "2.50",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleContractNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/contracts/42")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleSettleConflicts(t *testing.T) {
	srv, _ := newTestServer(t)

	postJSON(t, srv.URL+"/api/v1/contracts", map[string]string{
		"trader_id": "alice",
		"seller":    "bob",
		"crop":      "corn",
		"quantity":  "10",
		"price":     "5",
	})

	// Settlement before the deadline is a lifecycle conflict.
	resp := postJSON(t, srv.URL+"/api/v1/contracts/1/settle", map[string]string{
		"trader_id": "alice",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("settle status = %d, want 409", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/api/v1/contracts/1/confirm", map[string]string{
		"trader_id": "bob",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm status = %d, want 200", resp.StatusCode)
	}

	// Both confirmed: cancellation is blocked.
	resp = postJSON(t, srv.URL+"/api/v1/contracts/1/cancel", map[string]string{
		"trader_id": "alice",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("cancel status = %d, want 409", resp.StatusCode)
	}
}

func TestHandleAdminAuthorization(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/admin/price", map[string]string{
		"trader_id": "mallory",
		"crop":      "wheat",
		"price":     "7.25",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("price update status = %d, want 403", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/api/v1/admin/price", map[string]string{
		"trader_id": testAdmin,
		"crop":      "wheat",
		"price":     "7.25",
	})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("admin price update status = %d, want 200", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/api/v1/admin/withdraw", map[string]string{
		"trader_id": "mallory",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("withdraw status = %d, want 403", resp.StatusCode)
	}
}

func TestHandleMarkets(t *testing.T) {
	srv, svc := newTestServer(t)
	ctx := context.Background()

	if err := svc.UpdateMarketPrice(ctx, testAdmin, crop.Rice, dec("4.20")); err != nil {
		t.Fatalf("price update: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/v1/markets/rice")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var info MarketInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !info.ReferencePrice.Equal(dec("4.20")) {
		t.Errorf("reference price = %s, want 4.20", info.ReferencePrice)
	}

	listResp, err := http.Get(srv.URL + "/api/v1/markets")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer listResp.Body.Close()
	var all []MarketInfo
	if err := json.NewDecoder(listResp.Body).Decode(&all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(all) == 0 {
		t.Error("expected at least one market")
	}

	badResp, err := http.Get(srv.URL + "/api/v1/markets/tulips")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer badResp.Body.Close()
	if badResp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad crop status = %d, want 400", badResp.StatusCode)
	}
}
