package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pictrans/internal/domain"
	"pictrans/internal/infra"
)

// ErrMissingEndpoint indicates the client was configured without an
// engine URL.
var ErrMissingEndpoint = errors.New("ocr: engine url is required")

// Options configures the OCR engine client.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the external OCR engine. The engine
// accepts one crop image per request and returns the recognized text.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

type recognizeResponse struct {
	Text    string `json:"text"`
	Message string `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingEndpoint
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

// Recognize submits one crop image and returns the detected text. An
// empty result is valid: a region can contain no recognizable text.
func (c *Client) Recognize(ctx context.Context, crop io.Reader, filename string, lang domain.Language) (string, error) {
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("ocr: build form: %w", err)
	}
	if _, err := io.Copy(part, crop); err != nil {
		return "", fmt.Errorf("ocr: copy crop: %w", err)
	}
	if err := mw.WriteField("language", lang.Tag().String()); err != nil {
		return "", fmt.Errorf("ocr: write language field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("ocr: finalize form: %w", err)
	}

	endpoint := c.baseURL + "/recognize"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("ocr: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ocr: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail recognizeResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			return "", fmt.Errorf("ocr: %s", detail.Message)
		}
		return "", fmt.Errorf("ocr: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded recognizeResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("ocr: decode response: %w", err)
	}

	c.logger.Debug().
		Str("filename", filename).
		Str("language", lang.Tag().String()).
		Int("chars", len(decoded.Text)).
		Msg("ocr: recognized crop")
	return decoded.Text, nil
}
