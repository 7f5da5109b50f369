package acorn_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acornsend/internal/acorn"
	"acornsend/internal/domain"
)

func testPayload() domain.SendPayload {
	return domain.SendPayload{
		ClientID:  "adalovelace",
		Phone:     "+15551234567",
		Message:   "Please complete today's form.",
		FormValue: "14",
		SendVia:   "text",
		TextFrom:  "clinic-main",
	}
}

func TestSendSuccess(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(acorn.Ack{ConfirmationID: "conf-123"})
	}))
	defer srv.Close()

	c := acorn.New(srv.URL, "77", 5*time.Second)
	ack, err := c.Send(context.Background(), testPayload())
	require.NoError(t, err)
	assert.Equal(t, "conf-123", ack.ConfirmationID)

	assert.Equal(t, "/forms/send", gotPath)
	assert.Equal(t, "77", gotBody["clinician_id"])
	assert.Equal(t, "adalovelace", gotBody["client_id"])
	assert.Equal(t, "+15551234567", gotBody["phone"])
}

func TestSendEmptyAckBodyIsOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	_, err := acorn.New(srv.URL, "77", 5*time.Second).Send(context.Background(), testPayload())
	require.NoError(t, err)
}

func TestSendStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{status: http.StatusInternalServerError, want: acorn.ErrTransient},
		{status: http.StatusBadGateway, want: acorn.ErrTransient},
		{status: http.StatusTooManyRequests, want: acorn.ErrTransient},
		{status: http.StatusBadRequest, want: acorn.ErrRejected},
		{status: http.StatusForbidden, want: acorn.ErrRejected},
		{status: http.StatusNotFound, want: acorn.ErrRejected},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			_, err := acorn.New(srv.URL, "77", 5*time.Second).Send(context.Background(), testPayload())
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSendNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := acorn.New(srv.URL, "77", time.Second).Send(context.Background(), testPayload())
	require.ErrorIs(t, err, acorn.ErrTransient)
}
