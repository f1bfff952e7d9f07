package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Webhook POSTs each event as JSON. When Secret is set the body is signed:
// X-Salonsync-Signature = "sha256=" + hex(HMAC(secret, timestamp + "." + body)).
type Webhook struct {
	URL    string
	Secret string
	http   *resty.Client
	now    func() time.Time
}

// NewWebhook creates a webhook sink with a 10s timeout.
func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		URL:    url,
		Secret: secret,
		http: resty.New().
			SetTimeout(10*time.Second).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", "salonsync-webhook/1"),
		now: time.Now,
	}
}

// Sign returns the signature header value for body at unix timestamp ts.
func Sign(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (w *Webhook) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ts := fmt.Sprintf("%d", w.now().Unix())
	req := w.http.R().
		SetContext(ctx).
		SetHeader("X-Salonsync-Timestamp", ts).
		SetBody(body)
	if w.Secret != "" {
		req.SetHeader("X-Salonsync-Signature", Sign(w.Secret, ts, body))
	}

	resp, err := req.Post(w.URL)
	if err != nil {
		return fmt.Errorf("POST %s: %w", w.URL, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("POST %s: status %d", w.URL, resp.StatusCode())
	}
	return nil
}

func (w *Webhook) Close() error { return nil }
