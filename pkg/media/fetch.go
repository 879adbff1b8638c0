package media

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Fetcher downloads gateway-hosted recordings into a Store. The telephony
// gateway serves recording URLs behind HTTP basic auth (account SID and
// token for Twilio-style providers), so the fetch carries credentials and
// a bounded timeout.
type Fetcher struct {
	// Client is the HTTP client used for downloads. If nil,
	// http.DefaultClient is used.
	Client *http.Client

	// Username and Password are sent as basic auth when non-empty.
	Username string
	Password string

	// Timeout bounds a single download. Zero means 60 seconds.
	Timeout time.Duration
}

// Fetch downloads url into st at path.
func (f *Fetcher) Fetch(ctx context.Context, st Store, path, url string) error {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if f.Username != "" || f.Password != "" {
		req.SetBasicAuth(f.Username, f.Password)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("media: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("media: fetch %s: unexpected status %s", url, resp.Status)
	}

	return st.Put(ctx, path, resp.Body)
}
