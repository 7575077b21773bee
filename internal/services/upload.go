package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// Upload timeout per attempt — generous for multi-hundred-MB renders
	uploadTimeout = 180 * time.Second

	// Retry configuration
	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second
)

// UploadClient talks to the remote upload gateway. The gateway accepts a
// multipart file plus destination name/flags and answers with the stored
// object's public URL and storage key.
type UploadClient struct {
	baseURL string
	secret  string
	client  *http.Client
}

// UploadResult is the gateway's answer for one stored file.
type UploadResult struct {
	URL string
	Key string
}

func NewUploadClient(baseURL, secret string) *UploadClient {
	return &UploadClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		secret:  secret,
		client: &http.Client{
			Timeout: uploadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// UploadFile sends a local file to the gateway with retries and exponential
// backoff. name is the destination object name; saveOnDb asks the gateway to
// register the object in its own catalog.
func (c *UploadClient) UploadFile(ctx context.Context, localPath, name string, saveOnDb bool) (*UploadResult, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", localPath, err)
	}

	body, contentType, err := buildUploadForm(filepath.Base(localPath), name, saveOnDb, data)
	if err != nil {
		return nil, err
	}

	url := c.baseURL + "/filetoupload"

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt)
			log.Printf("[Upload] Retry %d/%d for %s (waiting %v)...", attempt, maxRetries, name, delay)

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("upload cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		// Each attempt gets its own timeout, independent of caller's ctx
		uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)

		req, err := http.NewRequestWithContext(uploadCtx, "POST", url, bytes.NewReader(body))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", c.secret)

		resp, err := c.client.Do(req)
		if err != nil {
			cancel()
			lastErr = fmt.Errorf("failed to upload: %w", err)
			if isRetryableError(err) {
				log.Printf("[Upload] Attempt %d failed (retryable): %v", attempt+1, err)
				continue
			}
			return nil, lastErr
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			if attempt > 0 {
				log.Printf("[Upload] Succeeded on attempt %d for %s", attempt+1, name)
			}
			return parseUploadResponse(respBody)
		}

		lastErr = fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, truncate(string(respBody), 200))

		if isRetryableStatus(resp.StatusCode) {
			log.Printf("[Upload] Attempt %d returned status %d (retryable)", attempt+1, resp.StatusCode)
			continue
		}

		// Non-retryable status (400, 401, 403, 404, 413, etc.)
		return nil, lastErr
	}

	return nil, fmt.Errorf("upload failed after %d attempts: %w", maxRetries+1, lastErr)
}

func buildUploadForm(filename, name string, saveOnDb bool, data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("failed to build upload form: %w", err)
	}

	_ = w.WriteField("path", "")
	_ = w.WriteField("name", name)
	_ = w.WriteField("saveOnDb", strconv.FormatBool(saveOnDb))

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to build upload form: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

// parseUploadResponse extracts url/key from {"data":{"url":...,"key":...}}.
// A well-formed response with an empty URL is passed through unchanged — the
// caller decides how to degrade.
func parseUploadResponse(body []byte) (*UploadResult, error) {
	var result struct {
		Data struct {
			URL string `json:"url"`
			Key string `json:"key"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse upload response: %w", err)
	}

	return &UploadResult{URL: result.Data.URL, Key: result.Data.Key}, nil
}

// retryDelay calculates exponential backoff with jitter: base * 2^attempt + random jitter
func retryDelay(attempt int) time.Duration {
	delay := float64(baseRetryDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxRetryDelay) {
		delay = float64(maxRetryDelay)
	}
	// Add 0–25% jitter to avoid thundering herd
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

// isRetryableError checks if a network-level error is worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}

// isRetryableStatus checks if an HTTP status code is worth retrying
func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || // 429
		status == http.StatusRequestTimeout || // 408
		status == http.StatusBadGateway || // 502
		status == http.StatusServiceUnavailable || // 503
		status == http.StatusGatewayTimeout // 504
}

// truncate limits a string to maxLen characters for log output
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
