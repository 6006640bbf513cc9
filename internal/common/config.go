package common

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultConfigFile = "scan2csv.toml"
	DefaultEnvFile    = ".env"
)

// Backend names accepted by the OCR, structuring and mapping selectors.
const (
	BackendAzure      = "azure"
	BackendOpenAI     = "openai"
	BackendHyperbolic = "hyperbolic"
	BackendVertex     = "vertex"
	BackendTesseract  = "tesseract"
	BackendLocal      = "local"
)

var (
	ocrBackends     = []string{BackendAzure, BackendOpenAI, BackendHyperbolic, BackendVertex, BackendTesseract}
	structBackends  = []string{BackendAzure, BackendOpenAI, BackendHyperbolic, BackendVertex}
	mappingBackends = []string{BackendAzure, BackendOpenAI, BackendHyperbolic, BackendVertex, BackendLocal}
)

// Duration decodes "300", "300s" or "5m" from TOML and env alike. Bare
// numbers are seconds.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := parseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Config holds all application configuration. It is built once by
// LoadConfig and passed by value to components; nothing reads the
// environment after that.
type Config struct {
	OutRoot        string `toml:"out_root"`
	DPI            int    `toml:"dpi"`
	OCRBackend     string `toml:"ocr_backend"`
	StructBackend  string `toml:"struct_backend"`
	MappingBackend string `toml:"mapping_backend"`
	SkipExisting   bool   `toml:"skip_existing"`
	Workers        int    `toml:"workers"`
	LogLevel       string `toml:"log_level"`

	API        APIConfig       `toml:"api"`
	Tools      ToolsConfig     `toml:"tools"`
	Normalize  NormalizeConfig `toml:"normalize"`
	Mapping    MappingConfig   `toml:"mapping"`
	Azure      AzureConfig     `toml:"azure"`
	OpenAI     ProviderConfig  `toml:"openai"`
	Hyperbolic ProviderConfig  `toml:"hyperbolic"`
	Vertex     VertexConfig    `toml:"vertex"`
	Ledger     LedgerConfig    `toml:"ledger"`
	Publish    PublishConfig   `toml:"publish"`
}

// APIConfig holds the per-call timeout and retry policy for remote models.
type APIConfig struct {
	Timeout     Duration `toml:"timeout"`
	MaxRetries  int      `toml:"max_retries"`
	RetryDelay  Duration `toml:"retry_delay"`
	Temperature float32  `toml:"temperature"`
}

// ToolsConfig names the external binaries used for rasterizing and local OCR.
type ToolsConfig struct {
	Pdftoppm      string `toml:"pdftoppm"`
	Tesseract     string `toml:"tesseract"`
	TesseractLang string `toml:"tesseract_lang"`
}

// NormalizeConfig controls unrecognized column handling.
type NormalizeConfig struct {
	Unknown string `toml:"unknown"`
}

// MappingConfig describes the downstream target schema.
type MappingConfig struct {
	TargetColumns []string `toml:"target_columns"`
	ChunkSize     int      `toml:"chunk_size"`
}

// AzureConfig holds Azure OpenAI settings.
type AzureConfig struct {
	Endpoint   string `toml:"endpoint"`
	Deployment string `toml:"deployment"`
	APIKey     string `toml:"api_key"`
	Auth       string `toml:"auth"`
}

// ProviderConfig holds an OpenAI-compatible provider.
type ProviderConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
}

// VertexConfig holds Google Vertex AI settings.
type VertexConfig struct {
	ProjectID string `toml:"project_id"`
	Location  string `toml:"location"`
	Model     string `toml:"model"`
}

// LedgerConfig selects the run ledger database.
type LedgerConfig struct {
	Driver   string `toml:"driver"`
	DSN      string `toml:"dsn"`
	MaxConns int32  `toml:"max_conns"`
}

// PublishConfig enables upload of final artifacts to Azure Blob Storage.
type PublishConfig struct {
	Container        string `toml:"container"`
	ConnectionString string `toml:"connection_string"`
	AccountURL       string `toml:"account_url"`
}

// Enabled reports whether publishing is configured.
func (p PublishConfig) Enabled() bool { return p.Container != "" }

// Overrides carries CLI flag values; nil fields are left alone.
type Overrides struct {
	OutRoot        *string
	DPI            *int
	OCRBackend     *string
	StructBackend  *string
	MappingBackend *string
	SkipExisting   *bool
	Workers        *int
	LogLevel       *string
}

// LoadOptions points LoadConfig at its sources.
type LoadOptions struct {
	// ConfigFile is an optional TOML file. Empty means DefaultConfigFile if it
	// exists.
	ConfigFile string
	// EnvFile is an optional dotenv file. Empty means DefaultEnvFile if it
	// exists.
	EnvFile   string
	Overrides Overrides
	// SkipMkdir leaves the output root alone; used by read-only commands.
	SkipMkdir bool
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		OutRoot:        "uploads",
		DPI:            200,
		OCRBackend:     BackendAzure,
		MappingBackend: BackendHyperbolic,
		Workers:        2,
		LogLevel:       "info",
		API: APIConfig{
			Timeout:    Duration(300 * time.Second),
			MaxRetries: 3,
			RetryDelay: Duration(5 * time.Second),
		},
		Tools: ToolsConfig{
			Pdftoppm:      "pdftoppm",
			Tesseract:     "tesseract",
			TesseractLang: "fra+eng",
		},
		Normalize: NormalizeConfig{Unknown: "keep"},
		Mapping:   MappingConfig{ChunkSize: 50},
		Azure:     AzureConfig{Auth: "api_key"},
		OpenAI: ProviderConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Hyperbolic: ProviderConfig{
			BaseURL: "https://api.hyperbolic.xyz/v1",
			Model:   "meta-llama/Llama-3.3-70B-Instruct",
		},
		Vertex: VertexConfig{
			Location: "us-central1",
			Model:    "gemini-1.5-pro",
		},
		Ledger: LedgerConfig{Driver: "sqlite", MaxConns: 4},
	}
}

// LoadConfig resolves defaults, the TOML file, the dotenv file, the
// environment and CLI overrides, in that order, then validates the result and
// makes sure the output root exists.
func LoadConfig(opts LoadOptions) (*Config, error) {
	cfg := Defaults()

	if err := cfg.loadFile(opts.ConfigFile); err != nil {
		return nil, err
	}
	if err := loadDotEnv(opts.EnvFile); err != nil {
		return nil, err
	}
	cfg.loadEnv()
	cfg.apply(opts.Overrides)
	cfg.finalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(cfg.OutRoot)
	if err != nil {
		return nil, LocalIO("resolve out root", err)
	}
	cfg.OutRoot = root
	if !opts.SkipMkdir {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, LocalIO("create out root", err)
		}
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return NewAppError("CONFIG_ERROR", "read config file "+path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return NewAppError("CONFIG_ERROR", "parse config file "+path, err)
	}
	return nil
}

func loadDotEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit {
			return nil
		}
		return NewAppError("CONFIG_ERROR", "env file "+path, err)
	}
	// godotenv.Load never overrides variables already set.
	if err := godotenv.Load(path); err != nil {
		return NewAppError("CONFIG_ERROR", "load env file "+path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	c.OutRoot = getEnv("PIPELINE_OUT_ROOT", c.OutRoot)
	c.DPI = getEnvAsInt("VLM_DPI", c.DPI)
	c.OCRBackend = strings.ToLower(getEnv("OCR_BACKEND", c.OCRBackend))
	c.StructBackend = strings.ToLower(getEnv("STRUCT_BACKEND", c.StructBackend))
	c.MappingBackend = strings.ToLower(getEnv("MAPPING_BACKEND", c.MappingBackend))
	c.SkipExisting = getEnvAsBool("SKIP_EXISTING", c.SkipExisting)
	c.Workers = getEnvAsInt("PIPELINE_WORKERS", c.Workers)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.API.Timeout = Duration(getEnvAsDuration("API_TIMEOUT", c.API.Timeout.Std()))
	c.API.MaxRetries = getEnvAsInt("API_MAX_RETRIES", c.API.MaxRetries)
	c.API.RetryDelay = Duration(getEnvAsDuration("API_RETRY_DELAY", c.API.RetryDelay.Std()))
	c.API.Temperature = getEnvAsFloat32("API_TEMPERATURE", c.API.Temperature)

	c.Tools.Pdftoppm = getEnv("PDFTOPPM", c.Tools.Pdftoppm)
	c.Tools.Tesseract = getEnv("TESSERACT", c.Tools.Tesseract)
	c.Tools.TesseractLang = getEnv("TESSERACT_LANG", c.Tools.TesseractLang)

	c.Normalize.Unknown = strings.ToLower(getEnv("NORMALIZE_UNKNOWN", c.Normalize.Unknown))
	if v := os.Getenv("MAPPING_TARGET_COLUMNS"); v != "" {
		c.Mapping.TargetColumns = splitList(v)
	}
	c.Mapping.ChunkSize = getEnvAsInt("MAPPING_CHUNK_SIZE", c.Mapping.ChunkSize)

	c.Azure.Endpoint = getEnv("AZURE_OPENAI_ENDPOINT", c.Azure.Endpoint)
	c.Azure.Deployment = getEnv("AZURE_OPENAI_DEPLOYMENT", c.Azure.Deployment)
	c.Azure.APIKey = getEnv("AZURE_OPENAI_API_KEY", c.Azure.APIKey)
	c.Azure.Auth = strings.ToLower(getEnv("AZURE_OPENAI_AUTH", c.Azure.Auth))

	c.OpenAI.APIKey = getEnv("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", c.OpenAI.BaseURL)
	c.OpenAI.Model = getEnv("OPENAI_MODEL", c.OpenAI.Model)

	c.Hyperbolic.APIKey = getEnv("HYPERBOLIC_API_KEY", c.Hyperbolic.APIKey)
	c.Hyperbolic.BaseURL = getEnv("HYPERBOLIC_BASE_URL", c.Hyperbolic.BaseURL)
	c.Hyperbolic.Model = getEnv("HYPERBOLIC_MODEL", c.Hyperbolic.Model)

	c.Vertex.ProjectID = getEnv("VERTEX_PROJECT_ID", c.Vertex.ProjectID)
	c.Vertex.Location = getEnv("VERTEX_LOCATION", c.Vertex.Location)
	c.Vertex.Model = getEnv("VERTEX_MODEL", c.Vertex.Model)

	c.Ledger.Driver = strings.ToLower(getEnv("LEDGER_DRIVER", c.Ledger.Driver))
	c.Ledger.DSN = getEnv("LEDGER_DSN", c.Ledger.DSN)
	c.Ledger.MaxConns = getEnvAsInt32("LEDGER_MAX_CONNS", c.Ledger.MaxConns)

	c.Publish.Container = getEnv("PUBLISH_CONTAINER", c.Publish.Container)
	c.Publish.ConnectionString = getEnv("PUBLISH_CONNECTION_STRING", c.Publish.ConnectionString)
	c.Publish.AccountURL = getEnv("PUBLISH_ACCOUNT_URL", c.Publish.AccountURL)
}

func (c *Config) apply(o Overrides) {
	if o.OutRoot != nil && *o.OutRoot != "" {
		c.OutRoot = *o.OutRoot
	}
	if o.DPI != nil && *o.DPI > 0 {
		c.DPI = *o.DPI
	}
	if o.OCRBackend != nil && *o.OCRBackend != "" {
		c.OCRBackend = strings.ToLower(*o.OCRBackend)
	}
	if o.StructBackend != nil && *o.StructBackend != "" {
		c.StructBackend = strings.ToLower(*o.StructBackend)
	}
	if o.MappingBackend != nil && *o.MappingBackend != "" {
		c.MappingBackend = strings.ToLower(*o.MappingBackend)
	}
	if o.SkipExisting != nil && *o.SkipExisting {
		c.SkipExisting = true
	}
	if o.Workers != nil && *o.Workers > 0 {
		c.Workers = *o.Workers
	}
	if o.LogLevel != nil && *o.LogLevel != "" {
		c.LogLevel = *o.LogLevel
	}
}

// finalize fills values derived from other settings.
func (c *Config) finalize() {
	if c.StructBackend == "" {
		if c.OCRBackend == BackendTesseract {
			c.StructBackend = BackendAzure
		} else {
			c.StructBackend = c.OCRBackend
		}
	}
	if c.Ledger.Driver == "sqlite" && c.Ledger.DSN == "" {
		c.Ledger.DSN = filepath.Join(c.OutRoot, "runs.db")
	}
}

// Validate checks ranges, backend names and the credentials of every enabled
// remote backend.
func (c *Config) Validate() error {
	v := NewValidator()
	v.Field("out_root", c.OutRoot, Required).
		Field("dpi", c.DPI, InRange(50, 600)).
		Field("workers", c.Workers, AtLeast(1)).
		Field("ocr_backend", c.OCRBackend, OneOf(ocrBackends...)).
		Field("struct_backend", c.StructBackend, OneOf(structBackends...)).
		Field("mapping_backend", c.MappingBackend, OneOf(mappingBackends...)).
		Field("api.max_retries", c.API.MaxRetries, AtLeast(0)).
		Field("mapping.chunk_size", c.Mapping.ChunkSize, AtLeast(1)).
		Field("normalize.unknown", c.Normalize.Unknown, OneOf("keep", "drop")).
		Field("ledger.driver", c.Ledger.Driver, OneOf("sqlite", "postgres", "none"))
	v.Check(c.API.Timeout > 0, "api.timeout", c.API.Timeout.Std(), "must be positive")

	for _, b := range c.EnabledBackends() {
		c.validateBackend(v, b)
	}
	if c.Ledger.Driver == "postgres" {
		v.Field("ledger.dsn", c.Ledger.DSN, Required)
	}
	if c.Publish.Enabled() {
		v.Check(c.Publish.ConnectionString != "" || c.Publish.AccountURL != "",
			"publish", c.Publish.Container, "needs a connection string or an account url")
	}
	return ValidateAndReturnError(v)
}

func (c *Config) validateBackend(v *Validator, backend string) {
	switch backend {
	case BackendAzure:
		v.Field("AZURE_OPENAI_ENDPOINT", c.Azure.Endpoint, Required).
			Field("AZURE_OPENAI_DEPLOYMENT", c.Azure.Deployment, Required).
			Field("AZURE_OPENAI_AUTH", c.Azure.Auth, OneOf("api_key", "entra"))
		if c.Azure.Auth != "entra" {
			v.Field("AZURE_OPENAI_API_KEY", c.Azure.APIKey, Required)
		}
	case BackendOpenAI:
		v.Field("OPENAI_API_KEY", c.OpenAI.APIKey, Required)
	case BackendHyperbolic:
		v.Field("HYPERBOLIC_API_KEY", c.Hyperbolic.APIKey, Required)
	case BackendVertex:
		v.Field("VERTEX_PROJECT_ID", c.Vertex.ProjectID, Required)
	}
}

// EnabledBackends lists the distinct backends the configured stages use.
func (c *Config) EnabledBackends() []string {
	var out []string
	seen := map[string]bool{}
	for _, b := range []string{c.OCRBackend, c.StructBackend, c.MappingBackend} {
		if b == "" || seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	return out
}

// String renders the non-secret settings for logs.
func (c *Config) String() string {
	return fmt.Sprintf("out_root=%s dpi=%d ocr=%s struct=%s mapping=%s skip_existing=%t workers=%d ledger=%s",
		c.OutRoot, c.DPI, c.OCRBackend, c.StructBackend, c.MappingBackend, c.SkipExisting, c.Workers, c.Ledger.Driver)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := parseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
