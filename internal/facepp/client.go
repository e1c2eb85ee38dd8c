package facepp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/example/faces-api/internal/detector"
)

const (
	detectPath  = "/facepp/v3/detect"
	comparePath = "/facepp/v3/compare"

	maxResponseBytes = 4 << 20
)

// Options configures the Face++ client.
type Options struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the Face++ detect and compare endpoints. Calls are made once; failures are not retried.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	http      *http.Client
	logger    *zap.Logger
}

var _ detector.Client = (*Client)(nil)

// NewClient returns a ready-to-use provider client.
func NewClient(opts Options, logger *zap.Logger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		apiKey:    opts.APIKey,
		apiSecret: opts.APISecret,
		http:      httpClient,
		logger:    logger.Named("facepp"),
	}
}

// DetectFaces uploads the image and returns the provider's faces array verbatim.
func (c *Client) DetectFaces(ctx context.Context, filename string, image []byte) ([]detector.Face, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for field, value := range c.credentials() {
		if err := writer.WriteField(field, value[0]); err != nil {
			return nil, c.fail("detect", 0, err)
		}
	}
	part, err := writer.CreateFormFile("image_file", filename)
	if err != nil {
		return nil, c.fail("detect", 0, err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, c.fail("detect", 0, err)
	}
	if err := writer.Close(); err != nil {
		return nil, c.fail("detect", 0, err)
	}

	payload, err := c.post(ctx, "detect", detectPath, writer.FormDataContentType(), body, false)
	if err != nil {
		return nil, err
	}

	faces := gjson.GetBytes(payload, "faces")
	if !faces.IsArray() {
		return nil, c.fail("detect", 0, errors.New("response has no faces field"))
	}

	var result []detector.Face
	if err := json.Unmarshal([]byte(faces.Raw), &result); err != nil {
		return nil, c.fail("detect", 0, fmt.Errorf("decode faces: %w", err))
	}
	if result == nil {
		result = []detector.Face{}
	}
	c.logger.Debug("faces detected", zap.Int("count", len(result)), zap.String("filename", filename))
	return result, nil
}

// CompareFaces returns the provider's raw comparison document for two face tokens.
// A 4xx answer with a JSON body (for example INVALID_FACE_TOKEN) is returned as the document
// so the caller's confidence check rejects it.
func (c *Client) CompareFaces(ctx context.Context, faceToken1, faceToken2 string) (detector.Comparison, error) {
	form := c.credentials()
	form.Set("face_token1", faceToken1)
	form.Set("face_token2", faceToken2)

	payload, err := c.post(ctx, "compare", comparePath, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), true)
	if err != nil {
		return nil, err
	}
	return detector.Comparison(payload), nil
}

func (c *Client) credentials() url.Values {
	return url.Values{"api_key": {c.apiKey}, "api_secret": {c.apiSecret}}
}

func (c *Client) post(ctx context.Context, operation, path, contentType string, body io.Reader, acceptClientError bool) ([]byte, error) {
	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, c.fail(operation, 0, err)
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = endpoint
		}
		return nil, c.fail(operation, 0, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.fail(operation, resp.StatusCode, err)
	}
	c.logger.Debug("provider call finished",
		zap.String("operation", operation),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	clientError := resp.StatusCode >= 400 && resp.StatusCode < 500
	if acceptClientError && clientError && gjson.ValidBytes(payload) {
		c.logger.Warn("provider rejected request",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
			zap.String("error_message", gjson.GetBytes(payload, "error_message").String()),
		)
		return payload, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(payload, "error_message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, c.fail(operation, resp.StatusCode, errors.New(msg))
	}
	if !gjson.ValidBytes(payload) {
		return nil, c.fail(operation, resp.StatusCode, errors.New("response is not valid JSON"))
	}
	return payload, nil
}

func (c *Client) fail(operation string, status int, err error) error {
	wrapped := &detector.ExternalServiceError{Operation: operation, StatusCode: status, Err: err}
	c.logger.Error("provider call failed", zap.Error(wrapped))
	return wrapped
}
