// internal/perception/screenshot.go
package perception

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ScreenshotClient fetches screenshots from the local capture server, which
// answers GET /screenshot with {"success": bool, "image": base64 PNG, "timestamp": ...}.
type ScreenshotClient struct {
	url  string
	http *http.Client
}

func NewScreenshotClient(url string, client *http.Client) *ScreenshotClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &ScreenshotClient{url: url, http: client}
}

type screenshotReply struct {
	Success bool   `json:"success"`
	Image   string `json:"image"`
	Error   string `json:"error"`
}

func (c *ScreenshotClient) Screenshot(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating screenshot request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting screenshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("screenshot server returned %d", resp.StatusCode)
	}

	var reply screenshotReply
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decoding screenshot reply: %w", err)
	}
	if !reply.Success {
		if reply.Error == "" {
			reply.Error = "unknown error"
		}
		return nil, fmt.Errorf("screenshot failed: %s", reply.Error)
	}
	if reply.Image == "" {
		return nil, errors.New("screenshot reply has no image")
	}

	png, err := base64.StdEncoding.DecodeString(reply.Image)
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot image: %w", err)
	}
	return png, nil
}
