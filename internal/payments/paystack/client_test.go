package paystack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/schoolfees/schoolfees/internal/payments"
	"github.com/schoolfees/schoolfees/internal/school"
)

func TestInitiateSendsKobo(t *testing.T) {
	var got initializeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transaction/initialize", r.URL.Path)
		require.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"SF_PAYSTACK_1"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test", time.Second)
	session, err := c.Initiate(context.Background(), payments.CheckoutRequest{
		Reference: "SF_PAYSTACK_1",
		Amount:    5000000,
		Currency:  "NGN",
		Customer:  school.Customer{Email: "ada@example.com"},
	})
	require.NoError(t, err)
	require.Equal(t, "https://checkout.paystack.com/abc", session.RedirectURL)
	require.Equal(t, int64(5000000), got.Amount)
	require.Equal(t, "ada@example.com", got.Email)
}

func TestVerifyOutcomes(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
		want   payments.GatewayOutcome
		amount school.Money
	}{
		"success":   {http.StatusOK, `{"status":true,"data":{"status":"success","amount":5000000,"currency":"NGN"}}`, payments.OutcomeSuccess, 5000000},
		"declined":  {http.StatusOK, `{"status":true,"data":{"status":"failed","amount":5000000,"currency":"NGN"}}`, payments.OutcomeFailed, 5000000},
		"ongoing":   {http.StatusOK, `{"status":true,"data":{"status":"ongoing","amount":5000000}}`, payments.OutcomePending, 5000000},
		"not found": {http.StatusBadRequest, `{"status":false,"message":"Transaction reference not found"}`, payments.OutcomeFailed, 0},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/transaction/verify/SF_1", r.URL.Path)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			v, err := NewClient(srv.URL, "sk", time.Second).Verify(context.Background(), "SF_1")
			require.NoError(t, err)
			require.Equal(t, tc.want, v.Outcome)
			require.Equal(t, tc.amount, v.Amount)
			require.NotEmpty(t, v.Raw)
		})
	}
}

func TestVerifyServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "sk", time.Second).Verify(context.Background(), "SF_1")
	require.ErrorIs(t, err, payments.ErrGatewayUnavailable)
}

func TestVerifyAuthAndThrottlingAreUnavailable(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
			}))
			defer srv.Close()

			v, err := NewClient(srv.URL, "sk_rotated", time.Second).Verify(context.Background(), "SF_1")
			require.ErrorIs(t, err, payments.ErrGatewayUnavailable)
			require.Empty(t, v.Outcome)
		})
	}
}

func TestVerifyTimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "sk", 20*time.Millisecond).Verify(context.Background(), "SF_1")
	require.ErrorIs(t, err, payments.ErrGatewayUnavailable)
}

func TestParseWebhook(t *testing.T) {
	c := NewClient("", "sk_live", time.Second)
	body := []byte(`{"event":"charge.success","data":{"reference":"SF_PAYSTACK_9"}}`)

	ref, err := c.ParseWebhook(body, Sign("sk_live", body))
	require.NoError(t, err)
	require.Equal(t, "SF_PAYSTACK_9", ref)

	_, err = c.ParseWebhook(body, Sign("other", body))
	require.ErrorIs(t, err, payments.ErrInvalidSignature)

	_, err = c.ParseWebhook(body, "")
	require.ErrorIs(t, err, payments.ErrInvalidSignature)
}
