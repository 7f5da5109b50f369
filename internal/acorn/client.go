// Package acorn is the thin HTTP client for the destination send API. It
// tags failures as transient or rejected; the retry policy lives with the
// dispatch engine, not here.
package acorn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"acornsend/internal/domain"
)

var (
	// ErrTransient marks a retryable send failure: network faults, timeouts,
	// rate limiting, server errors.
	ErrTransient = errors.New("transient send failure", j.C("ERR_4f81de6a05c2b397"))

	// ErrRejected marks a permanent send failure: the destination refused
	// the payload. Retrying cannot help.
	ErrRejected = errors.New("send rejected by destination", j.C("ERR_d2c90517ab64fe83"))
)

// Ack confirms one accepted send.
type Ack struct {
	ConfirmationID string `json:"confirmation_id"`
}

// Client posts send requests to the Acorn API.
type Client struct {
	BaseURL     string
	ClinicianID string
	HTTPClient  *http.Client
}

func New(baseURL, clinicianID string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:     baseURL,
		ClinicianID: clinicianID,
		HTTPClient:  &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	ClinicianID  string `json:"clinician_id"`
	ClientID     string `json:"client_id"`
	Phone        string `json:"phone"`
	Message      string `json:"message"`
	FormValue    string `json:"form_value"`
	SendVia      string `json:"send_via"`
	TextFrom     string `json:"text_from"`
	StartSession int    `json:"start_session"`
}

// Send posts one mobile form send. Timeouts and 5xx/429 responses come back
// wrapped in ErrTransient, other non-2xx responses in ErrRejected.
func (c *Client) Send(ctx context.Context, p domain.SendPayload) (Ack, error) {
	body, err := json.Marshal(sendRequest{
		ClinicianID: c.ClinicianID,
		ClientID:    p.ClientID,
		Phone:       p.Phone,
		Message:     p.Message,
		FormValue:   p.FormValue,
		SendVia:     p.SendVia,
		TextFrom:    p.TextFrom,
	})
	if err != nil {
		return Ack{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/forms/send", bytes.NewReader(body))
	if err != nil {
		return Ack{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Ack{}, errors.Wrap(ErrTransient, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var ack Ack
		if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil && err != io.EOF {
			return Ack{}, errors.Wrap(ErrTransient, "malformed ack body")
		}
		return ack, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Ack{}, errors.Wrap(ErrTransient, fmt.Sprintf("status %d", resp.StatusCode),
			j.KV("status", resp.StatusCode))
	default:
		return Ack{}, errors.Wrap(ErrRejected, fmt.Sprintf("status %d", resp.StatusCode),
			j.KV("status", resp.StatusCode))
	}
}
