package compose

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pictrans/internal/infra"
)

// ErrMissingBridgeURL indicates the client was configured without an
// endpoint for the AI composition backend.
var ErrMissingBridgeURL = errors.New("compose: bridge url is required")

// BridgeOptions configures the remote composition client.
type BridgeOptions struct {
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Bridge delegates composition to an external inpainting service. The
// service receives the origin image plus the patch set and returns the
// finished image.
type Bridge struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

type bridgeRequest struct {
	Image   []byte  `json:"image"`
	Patches []Patch `json:"patches"`
}

type bridgeError struct {
	Message string `json:"message"`
}

// NewBridge constructs a client with sane defaults and injected dependencies.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBridgeURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
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
	return &Bridge{baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

// Compose sends the origin image and patch set to the bridge and returns
// the composed image bytes (PNG).
func (b *Bridge) Compose(ctx context.Context, origin []byte, patches []Patch) ([]byte, error) {
	payload, err := json.Marshal(bridgeRequest{Image: origin, Patches: patches})
	if err != nil {
		return nil, fmt.Errorf("compose: encode request: %w", err)
	}

	endpoint := b.baseURL + "/compose"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("compose: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("compose: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("compose: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail bridgeError
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			return nil, fmt.Errorf("compose: %s", detail.Message)
		}
		return nil, fmt.Errorf("compose: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if len(raw) == 0 {
		return nil, errors.New("compose: empty image in response")
	}

	b.logger.Debug().Int("patches", len(patches)).Int("bytes", len(raw)).Msg("compose: bridge returned image")
	return raw, nil
}
