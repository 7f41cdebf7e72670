package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pictrans/internal/domain"
	"pictrans/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("translate: api key is required")

// Options configures the Google Cloud Translation client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the Translation API v2 endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

type translateResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText string `json:"translatedText"`
		} `json:"translations"`
	} `json:"data"`
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://translation.googleapis.com/language/translate/v2"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
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
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Translate converts the given texts from source to target in one batch
// call. The result preserves input order and length; blank inputs come
// back blank without being sent to the API.
func (c *Client) Translate(ctx context.Context, texts []string, source, target domain.Language) ([]string, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	if len(texts) == 0 {
		return nil, nil
	}

	// Track which inputs actually need the API call.
	indices := make([]int, 0, len(texts))
	form := url.Values{}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		indices = append(indices, i)
		form.Add("q", t)
	}
	out := make([]string, len(texts))
	if len(indices) == 0 {
		return out, nil
	}

	form.Set("source", source.Tag().String())
	form.Set("target", target.Tag().String())
	form.Set("format", "text")
	form.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("translate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("translate: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("translate: read response: %w", err)
	}

	var decoded translateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("translate: decode response: %w", err)
	}
	if resp.StatusCode >= 300 || decoded.Error.Code != 0 {
		if decoded.Error.Message != "" {
			return nil, fmt.Errorf("translate: %s (code %d)", decoded.Error.Message, decoded.Error.Code)
		}
		return nil, fmt.Errorf("translate: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if len(decoded.Data.Translations) != len(indices) {
		return nil, fmt.Errorf("translate: got %d translations for %d inputs", len(decoded.Data.Translations), len(indices))
	}

	for i, idx := range indices {
		out[idx] = decoded.Data.Translations[i].TranslatedText
	}

	c.logger.Debug().
		Str("source", source.Tag().String()).
		Str("target", target.Tag().String()).
		Int("count", len(indices)).
		Msg("translate: batch translated")
	return out, nil
}
