package flutterwave

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

func TestInitiateSendsMajorUnits(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v3/payments", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"success","message":"Hosted Link","data":{"link":"https://checkout.flutterwave.com/v3/hosted/pay/xyz"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "FLWSECK", "hash", time.Second)
	session, err := c.Initiate(context.Background(), payments.CheckoutRequest{
		Reference: "SF_FLUTTERWAVE_1",
		Amount:    1234550,
		Currency:  "NGN",
		Customer:  school.Customer{Email: "bola@example.com", Phone: "0800"},
	})
	require.NoError(t, err)
	require.Equal(t, "https://checkout.flutterwave.com/v3/hosted/pay/xyz", session.RedirectURL)
	require.InDelta(t, 12345.5, got["amount"], 0.0001)
	require.Equal(t, "SF_FLUTTERWAVE_1", got["tx_ref"])
}

func TestVerifyNormalisesToMinorUnits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v3/transactions/verify_by_reference", r.URL.Path)
		require.Equal(t, "SF_FLUTTERWAVE_1", r.URL.Query().Get("tx_ref"))
		_, _ = w.Write([]byte(`{"status":"success","data":{"status":"successful","tx_ref":"SF_FLUTTERWAVE_1","amount":500.75,"currency":"NGN"}}`))
	}))
	defer srv.Close()

	v, err := NewClient(srv.URL, "FLWSECK", "", time.Second).Verify(context.Background(), "SF_FLUTTERWAVE_1")
	require.NoError(t, err)
	require.Equal(t, payments.OutcomeSuccess, v.Outcome)
	require.Equal(t, school.Money(50075), v.Amount)
	require.Equal(t, "NGN", v.Currency)
}

func TestVerifyFailedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","data":{"status":"failed","amount":100,"currency":"NGN"}}`))
	}))
	defer srv.Close()

	v, err := NewClient(srv.URL, "k", "", time.Second).Verify(context.Background(), "SF_2")
	require.NoError(t, err)
	require.Equal(t, payments.OutcomeFailed, v.Outcome)
	require.Equal(t, "failed", v.Status)
}

func TestVerifyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := NewClient(addr, "k", "", time.Second).Verify(context.Background(), "SF_3")
	require.ErrorIs(t, err, payments.ErrGatewayUnavailable)
}

func TestVerifyClientErrors(t *testing.T) {
	cases := map[string]struct {
		status      int
		unavailable bool
	}{
		"unauthorized": {http.StatusUnauthorized, true},
		"rate limited": {http.StatusTooManyRequests, true},
		"not found":    {http.StatusNotFound, false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"status":"error","message":"No transaction was found for this id"}`))
			}))
			defer srv.Close()

			v, err := NewClient(srv.URL, "k", "", time.Second).Verify(context.Background(), "SF_4")
			if tc.unavailable {
				require.ErrorIs(t, err, payments.ErrGatewayUnavailable)
				return
			}
			require.NoError(t, err)
			require.Equal(t, payments.OutcomeFailed, v.Outcome)
		})
	}
}

func TestParseWebhook(t *testing.T) {
	c := NewClient("", "k", "secret-hash", time.Second)
	body := []byte(`{"event":"charge.completed","data":{"tx_ref":"SF_FLUTTERWAVE_7","status":"successful"}}`)

	ref, err := c.ParseWebhook(body, "secret-hash")
	require.NoError(t, err)
	require.Equal(t, "SF_FLUTTERWAVE_7", ref)

	_, err = c.ParseWebhook(body, "wrong")
	require.ErrorIs(t, err, payments.ErrInvalidSignature)

	unset := NewClient("", "k", "", time.Second)
	_, err = unset.ParseWebhook(body, "")
	require.ErrorIs(t, err, payments.ErrInvalidSignature)
}
