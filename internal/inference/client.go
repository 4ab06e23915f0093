// Package inference submits rasterized frames to the remote digit classifier.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/vzahanych/digit-recognizer/internal/logger"
	"github.com/vzahanych/digit-recognizer/internal/presenter"
)

const (
	formField = "file"
	fileName  = "frame.png"

	maxResponseSize = 1 << 20
)

// Client posts rasterized frames to the digit prediction endpoint
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *logger.Logger
}

// ClientConfig contains configuration for the inference client
type ClientConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// NewClient creates a new inference client
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	return &Client{
		endpoint: config.Endpoint,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: log,
	}
}

// Endpoint returns the prediction URL
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Submit encodes img as PNG and asks the endpoint to classify it
func (c *Client) Submit(ctx context.Context, img image.Image) (*presenter.Prediction, error) {
	body, contentType, err := encodeFrame(img)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)

	c.logger.Debug("Sending prediction request", "url", c.endpoint, "request_id", requestID)
	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	requestDuration := time.Since(startTime)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
			RequestID:  requestID,
		}
		c.logger.Debug(
			"Prediction endpoint returned error",
			"status", resp.StatusCode,
			"message", apiErr.Message,
			"request_id", requestID,
		)
		return nil, apiErr
	}

	pred, err := decodePrediction(data)
	if err != nil {
		return nil, err
	}

	c.logger.Debug(
		"Prediction completed",
		"digit", *pred.Digit,
		"confidence", *pred.Confidence,
		"request_duration_ms", requestDuration.Milliseconds(),
		"request_id", requestID,
	)

	return pred, nil
}

// Ping checks that the endpoint answers HTTP at all. Any status code counts.
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	resp.Body.Close()
	return nil
}

func encodeFrame(img image.Image) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(formField, fileName)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if err := png.Encode(part, img); err != nil {
		return nil, "", fmt.Errorf("failed to encode frame: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func decodePrediction(data []byte) (*presenter.Prediction, error) {
	var pred presenter.Prediction
	if err := json.Unmarshal(data, &pred); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if pred.Digit == nil || pred.Confidence == nil {
		return nil, fmt.Errorf("%w: missing digit or confidence", ErrDecode)
	}
	if *pred.Digit < 0 || *pred.Digit > 9 {
		return nil, fmt.Errorf("%w: digit %d out of range", ErrDecode, *pred.Digit)
	}
	if c := *pred.Confidence; c < 0 || c > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of range", ErrDecode, c)
	}
	return &pred, nil
}

// maxErrorMessage caps raw error bodies, counted in runes
const maxErrorMessage = 200

// errorMessage extracts the "error" field of a JSON error body, or the raw text
func errorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	msg := strings.ToValidUTF8(strings.TrimSpace(string(data)), "\uFFFD")
	if utf8.RuneCountInString(msg) > maxErrorMessage {
		msg = string([]rune(msg)[:maxErrorMessage])
	}
	return msg
}
