// Package jobs is the client for the job service, which confirms that a job
// exists and, later, that it has been completed.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MockURL makes the client answer true without calling the job service.
const MockURL = "mock"

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient, logger: logger}
}

func (c *Client) JobExists(ctx context.Context, jobID uuid.UUID) (bool, error) {
	return c.ask(ctx, jobID, "validate")
}

func (c *Client) JobIsComplete(ctx context.Context, jobID uuid.UUID) (bool, error) {
	return c.ask(ctx, jobID, "complete")
}

func (c *Client) ask(ctx context.Context, jobID uuid.UUID, check string) (bool, error) {
	if strings.EqualFold(c.baseURL, MockURL) {
		return true, nil
	}

	url := fmt.Sprintf("%s/jobs/%s/%s", c.baseURL, jobID, check)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("job service request failed", "job_id", jobID, "check", check, "error", err)
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("job service %s: unexpected status %s", check, resp.Status)
	}
	var ok bool
	if err := json.NewDecoder(resp.Body).Decode(&ok); err != nil {
		return false, fmt.Errorf("job service %s: decode: %w", check, err)
	}
	return ok, nil
}
