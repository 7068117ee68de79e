package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrRecordingDownload = errors.New("recording download failed")

// RecordingFetcher downloads a caller recording and reports its content type.
type RecordingFetcher interface {
	Fetch(ctx context.Context, recordingURL string) ([]byte, string, error)
}

// TwilioRecordings fetches recordings from Twilio with account basic auth.
// Recording URLs arrive in webhook form posts, so only Twilio hosts are
// contacted.
type TwilioRecordings struct {
	client     *http.Client
	accountSID string
	authToken  string
	maxBytes   int64
	hosts      []string
}

func NewTwilioRecordings(accountSID, authToken string, maxBytes int) *TwilioRecordings {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &TwilioRecordings{
		client:     &http.Client{Timeout: 30 * time.Second},
		accountSID: strings.TrimSpace(accountSID),
		authToken:  strings.TrimSpace(authToken),
		maxBytes:   int64(maxBytes),
		hosts:      []string{"twilio.com"},
	}
}

func (t *TwilioRecordings) Fetch(ctx context.Context, recordingURL string) ([]byte, string, error) {
	recordingURL = forceHTTPS(strings.TrimSpace(recordingURL))
	if err := t.checkHost(recordingURL); err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrRecordingDownload, err)
	}
	if t.accountSID != "" {
		req.SetBasicAuth(t.accountSID, t.authToken)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrRecordingDownload, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, "", fmt.Errorf("%w: status %d: %s", ErrRecordingDownload, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrRecordingDownload, err)
	}
	if int64(len(data)) > t.maxBytes {
		return nil, "", fmt.Errorf("%w: recording exceeds %d bytes", ErrRecordingDownload, t.maxBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (t *TwilioRecordings) checkHost(recordingURL string) error {
	u, err := url.Parse(recordingURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRecordingDownload, err)
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range t.hosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: host %q is not a Twilio host", ErrRecordingDownload, host)
}

// Twilio serves recordings over https only.
func forceHTTPS(u string) string {
	if strings.HasPrefix(u, "http://") {
		return "https://" + strings.TrimPrefix(u, "http://")
	}
	return u
}
