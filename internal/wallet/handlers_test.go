package wallet_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennybid/bid-engine/internal/auth"
	"github.com/pennybid/bid-engine/internal/gateway"
	"github.com/pennybid/bid-engine/internal/store"
	"github.com/pennybid/bid-engine/internal/wallet"
)

type testEnv struct {
	store  *store.MemoryStore
	signer *gateway.Signer
	token  string
	router chi.Router
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	svc, ms, _ := newTestService(t)
	authSvc := auth.NewService("test-secret")
	token, err := authSvc.IssueToken("u1", time.Hour)
	require.NoError(t, err)

	signer := gateway.NewSigner(secret)
	h := wallet.NewHandlers(svc, signer)

	r := chi.NewRouter()
	r.Post("/api/v1/wallet/callback", h.Callback)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(authSvc))
		r.Post("/api/v1/wallet/topup", h.TopUp)
		r.Get("/api/v1/wallet/balance", h.Balance)
		r.Get("/api/v1/wallet/transactions", h.Transactions)
	})
	return &testEnv{store: ms, signer: signer, token: token, router: r}
}

func (e *testEnv) do(method, path, body, contentType string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) authed(method, path, body string) *httptest.ResponseRecorder {
	return e.do(method, path, body, "application/json", map[string]string{"X-Auth-Token": e.token})
}

func callbackCode(t *testing.T, w *httptest.ResponseRecorder) int {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, "callback must always answer 200")
	var resp struct {
		Code int `json:"code"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp.Code
}

func TestCallback_Codes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"completed", "TransactionId=tx-1&AccountId=u1&Amount=500&Currency=KZT&Status=Completed", wallet.CodeOK},
		{"pending", "TransactionId=tx-1&AccountId=u1&Amount=500&Status=Pending", wallet.CodeOK},
		{"unknown account", "TransactionId=tx-1&AccountId=ghost&Amount=500&Status=Completed", wallet.CodeRetry},
		{"bad amount", "TransactionId=tx-1&AccountId=u1&Amount=abc&Status=Completed", wallet.CodeRetry},
		{"zero amount", "TransactionId=tx-1&AccountId=u1&Amount=0&Status=Completed", wallet.CodeRetry},
		{"declined with bad amount", "TransactionId=tx-1&AccountId=u1&Amount=abc&Status=Declined", wallet.CodeOK},
		{"declined without fields", "Status=Declined", wallet.CodeOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, "")
			w := env.do("POST", "/api/v1/wallet/callback", tc.body, "application/x-www-form-urlencoded", nil)
			assert.Equal(t, tc.want, callbackCode(t, w))
		})
	}
}

func TestCallback_NumericTransactionID(t *testing.T) {
	env := newTestEnv(t, "")

	declined := `{"TransactionId":504,"AccountId":"u1","Amount":"oops","Status":"Declined"}`
	w := env.do("POST", "/api/v1/wallet/callback", declined, "application/json", nil)
	assert.Equal(t, wallet.CodeOK, callbackCode(t, w))

	completed := `{"TransactionId":504,"AccountId":"u1","Amount":300,"Status":"Completed"}`
	for i := 0; i < 2; i++ {
		w := env.do("POST", "/api/v1/wallet/callback", completed, "application/json", nil)
		assert.Equal(t, wallet.CodeOK, callbackCode(t, w))
	}

	wl, err := env.store.GetWallet(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, wl.Balance.Equal(d(500)), "balance %s", wl.Balance)

	entries, err := env.store.ListLedgerEntries(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "504", entries[0].Reference)
}

func TestCallback_JSONAndRedelivery(t *testing.T) {
	env := newTestEnv(t, "")
	body := `{"TransactionId":"tx-7","AccountId":"u1","Amount":300,"Status":"Completed"}`

	for i := 0; i < 2; i++ {
		w := env.do("POST", "/api/v1/wallet/callback", body, "application/json", nil)
		assert.Equal(t, wallet.CodeOK, callbackCode(t, w))
	}

	wl, _ := env.store.GetWallet(context.Background(), "u1")
	assert.True(t, wl.Balance.Equal(d(500)), "balance %s", wl.Balance)
}

func TestCallback_Signature(t *testing.T) {
	env := newTestEnv(t, "api-secret")
	body := "TransactionId=tx-1&AccountId=u1&Amount=500&Status=Completed"

	w := env.do("POST", "/api/v1/wallet/callback", body, "application/x-www-form-urlencoded",
		map[string]string{gateway.HeaderSignature: "forged"})
	assert.Equal(t, wallet.CodeRetry, callbackCode(t, w))

	wl, _ := env.store.GetWallet(context.Background(), "u1")
	assert.True(t, wl.Balance.Equal(d(200)), "forged callback credited the wallet")

	w = env.do("POST", "/api/v1/wallet/callback", body, "application/x-www-form-urlencoded",
		map[string]string{gateway.HeaderSignature: env.signer.Sign([]byte(body))})
	assert.Equal(t, wallet.CodeOK, callbackCode(t, w))

	wl, _ = env.store.GetWallet(context.Background(), "u1")
	assert.True(t, wl.Balance.Equal(d(700)))
}

func TestTopUp(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.authed("POST", "/api/v1/wallet/topup", `{"amount": 500}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var intent map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&intent))
	for _, key := range []string{"public_id", "amount", "currency", "description", "account_id", "email"} {
		assert.Contains(t, intent, key)
	}
	assert.Equal(t, "u1", intent["account_id"])

	w = env.authed("POST", "/api/v1/wallet/topup", `{"amount": 50}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.authed("POST", "/api/v1/wallet/topup", `{"amount": "x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("POST", "/api/v1/wallet/topup", `{"amount": 500}`, "application/json", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBalanceAndTransactionsEndpoints(t *testing.T) {
	env := newTestEnv(t, "")
	for _, tx := range []string{"tx-1", "tx-2", "tx-3"} {
		w := env.do("POST", "/api/v1/wallet/callback",
			"TransactionId="+tx+"&AccountId=u1&Amount=100&Status=Completed", "application/x-www-form-urlencoded", nil)
		require.Equal(t, wallet.CodeOK, callbackCode(t, w))
	}

	w := env.authed("GET", "/api/v1/wallet/balance", "")
	require.Equal(t, http.StatusOK, w.Code)
	var bal map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&bal))
	assert.Contains(t, bal, "balance")
	assert.Contains(t, bal, "total_deposit")
	assert.Equal(t, "Hero", bal["loyalty_level"])

	w = env.authed("GET", "/api/v1/wallet/transactions?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Transactions []map[string]any `json:"transactions"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list.Transactions, 2)
	assert.Equal(t, "tx-3", list.Transactions[0]["reference"])

	w = env.authed("GET", "/api/v1/wallet/transactions", "")
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Len(t, list.Transactions, 3)

	w = env.authed("GET", "/api/v1/wallet/transactions?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
