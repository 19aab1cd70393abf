package postback

import (
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/seranking/paygate/internal/pkg/apperr"
	"github.com/seranking/paygate/internal/pkg/config"
)

const (
	sendAttempts = 3
	sendTimeout  = 10 * time.Second
)

// Client forwards conversion events to the external tracking endpoint.
// Delivery is best-effort: failures are logged and swallowed so tracking can
// never block payment processing.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:    cfg.PostbackURL,
		httpClient: &http.Client{Timeout: sendTimeout},
	}
}

// Send posts one status event for a click id, retrying up to three times on
// network errors and non-2xx responses. Returns whether delivery succeeded.
func (c *Client) Send(status, clickID string, extraParams map[string]string) bool {
	return c.send(status, clickID, extraParams, "unknown")
}

func (c *Client) send(status, clickID string, extraParams map[string]string, source string) bool {
	if c.baseURL == "" {
		log.Printf("postback_skipped_missing_url status=%s source=%s", status, source)
		return false
	}

	params := url.Values{}
	params.Set("cnv_id", clickID)
	params.Set("payout", "0")
	params.Set("cnv_status", status)
	for key, value := range extraParams {
		params.Set(key, value)
	}

	// The tracker reads the query string; the POST body stays empty.
	separator := "?"
	if strings.Contains(c.baseURL, "?") {
		separator = "&"
	}
	target := c.baseURL + separator + params.Encode()

	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		log.Printf("postback_attempt status=%s clickid=%s attempt=%d source=%s params=%d",
			status, clickID, attempt, source, len(params))
		resp, err := c.httpClient.Post(target, "", http.NoBody)
		if err != nil {
			lastErr = err
			log.Printf("postback_exception status=%s clickid=%s attempt=%d source=%s error=%v",
				status, clickID, attempt, source, err)
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 180))
		resp.Body.Close()
		if resp.StatusCode < 400 {
			log.Printf("postback_sent status=%s clickid=%s attempt=%d source=%s code=%d body=%s",
				status, clickID, attempt, source, resp.StatusCode, flattenBody(body))
			return true
		}
		lastErr = &httpStatusError{code: resp.StatusCode}
		log.Printf("postback_bad_response status=%s clickid=%s attempt=%d source=%s code=%d body=%s",
			status, clickID, attempt, source, resp.StatusCode, flattenBody(body))
	}

	log.Printf("postback_failed status=%s clickid=%s source=%s error=%v", status, clickID, source, lastErr)
	return false
}

// SendConversion reports the server-authenticated terminal success event,
// fired by the webhook reconciler after commit.
func (c *Client) SendConversion(clickID, payout string) bool {
	extra := map[string]string{}
	if payout != "" {
		extra["payout"] = payout
	}
	return c.send(StatusPaySuccess, clickID, extra, "stripe_webhook")
}

// Relay handles a client-reported funnel event: validates the status against
// the allow-list, refuses the reserved terminal success status, sanitizes the
// click id and params, then forwards. Returns whether the event was forwarded.
func (c *Client) Relay(status, clickID string, trackingParams map[string]string) (bool, error) {
	normalized, err := NormalizeStatus(status)
	if err != nil {
		return false, err
	}
	sanitizedClickID := SanitizeClickID(clickID)
	if sanitizedClickID == "" {
		return false, apperr.Validation("Invalid clickid")
	}
	if normalized == StatusPaySuccess {
		// pay_success only ever originates from the verified webhook path;
		// accepting it here would let a client spoof a paid conversion.
		log.Printf("postback_relay_skipped status=%s source=frontend_relay reason=reserved_server_side", normalized)
		return false, nil
	}
	return c.send(normalized, sanitizedClickID, SanitizeTrackingParams(trackingParams), "frontend_relay"), nil
}

type httpStatusError struct {
	code int
}

func (e *httpStatusError) Error() string {
	return "HTTP " + http.StatusText(e.code)
}

func flattenBody(body []byte) string {
	return strings.ReplaceAll(string(body), "\n", " ")
}
