package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vpnshop/paycore/internal/pkg/payment"
)

const maxResponseBody = 1 << 20

// apiClient is the thin JSON-over-HTTP client shared by the adapters.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// statusError is a non-2xx provider answer.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider answered status=%d body=%s", e.Status, e.Body)
}

// do sends body (JSON-encoded unless it is already []byte) and decodes a
// 2xx answer into out. Transport failures and 5xx answers are reported as
// payment.ErrGatewayUnavailable, other non-2xx answers as statusError.
func (c *apiClient) do(ctx context.Context, method, path string, headers map[string]string, body any, out any) error {
	var reader io.Reader
	contentType := "application/json"
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	case formBody:
		reader = strings.NewReader(string(b))
		contentType = "application/x-www-form-urlencoded"
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + path
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if reader != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", payment.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %v", payment.ErrGatewayUnavailable, &statusError{Status: resp.StatusCode, Body: string(raw)})
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{Status: resp.StatusCode, Body: string(raw)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: undecodable answer: %v", payment.ErrGatewayUnavailable, err)
	}
	return nil
}

// formBody marks a pre-encoded application/x-www-form-urlencoded body.
type formBody string

// rejected maps a 4xx answer to payment.ErrInvalidAmount when the provider
// refused the order itself, leaving other errors untouched.
func rejected(err error) error {
	var se *statusError
	if errors.As(err, &se) && (se.Status == http.StatusBadRequest || se.Status == http.StatusUnprocessableEntity) {
		return fmt.Errorf("%w: %v", payment.ErrInvalidAmount, err)
	}
	return err
}
