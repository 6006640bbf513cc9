package openai

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/joseph-ayodele/scan2csv/internal/common"
)

// cognitiveScope is the Entra ID scope for Azure OpenAI.
const cognitiveScope = "https://cognitiveservices.azure.com/.default"

// Config for an OpenAI-compatible chat/completions endpoint.
type Config struct {
	Name        string        // provider label used in logs
	APIKey      string        // sent as a bearer token unless KeyHeader is set
	KeyHeader   string        // e.g. "api-key" for Azure
	BaseURL     string        // default https://api.openai.com/v1
	Model       string        // model or Azure deployment name
	Temperature float32       // 0..2
	Timeout     time.Duration // http client timeout
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	cred       azcore.TokenCredential
	log        *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithTokenCredential authenticates with Entra ID tokens instead of a key.
func WithTokenCredential(cred azcore.TokenCredential) Option {
	return func(c *Client) { c.cred = cred }
}

func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger.With("provider", cfg.Name, "model", cfg.Model),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewOpenAI builds a client for api.openai.com or a compatible base URL.
func NewOpenAI(p common.ProviderConfig, api common.APIConfig, logger *slog.Logger) *Client {
	return NewClient(Config{
		Name:        common.BackendOpenAI,
		APIKey:      p.APIKey,
		BaseURL:     p.BaseURL,
		Model:       p.Model,
		Temperature: api.Temperature,
		Timeout:     api.Timeout.Std(),
	}, logger)
}

// NewHyperbolic builds a client for the Hyperbolic OpenAI-compatible API.
func NewHyperbolic(p common.ProviderConfig, api common.APIConfig, logger *slog.Logger) *Client {
	return NewClient(Config{
		Name:        common.BackendHyperbolic,
		APIKey:      p.APIKey,
		BaseURL:     p.BaseURL,
		Model:       p.Model,
		Temperature: api.Temperature,
		Timeout:     api.Timeout.Std(),
	}, logger)
}

// NewAzure builds a client for the Azure OpenAI v1 API of a resource. With
// auth "entra" it authenticates through DefaultAzureCredential.
func NewAzure(a common.AzureConfig, api common.APIConfig, logger *slog.Logger) (*Client, error) {
	cfg := Config{
		Name:        common.BackendAzure,
		APIKey:      a.APIKey,
		KeyHeader:   "api-key",
		BaseURL:     strings.TrimRight(a.Endpoint, "/") + "/openai/v1",
		Model:       a.Deployment,
		Temperature: api.Temperature,
		Timeout:     api.Timeout.Std(),
	}
	if a.Auth != "entra" {
		return NewClient(cfg, logger), nil
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, common.NewAppError("CONFIG_ERROR", "azure credential", err)
	}
	return NewClient(cfg, logger, WithTokenCredential(cred)), nil
}
