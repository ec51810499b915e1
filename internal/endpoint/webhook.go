package endpoint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	json "github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/recovery"
)

// HeaderPrefix is prepended to message headers forwarded over HTTP.
const HeaderPrefix = "X-Redeliver-"

// WebhookConfig configures the webhook handler.
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	// Compression is "" or "br".
	Compression string `yaml:"compression"`
	// Schema is an optional JSON Schema file JSON bodies must satisfy.
	Schema string `yaml:"schema"`
}

// Webhook forwards messages to an HTTP endpoint.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
	schema *jsonschema.Schema
}

// NewWebhook creates the handler.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if cfg.Compression != "" && cfg.Compression != "br" {
		return nil, fmt.Errorf("unsupported webhook compression %q", cfg.Compression)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	var schema *jsonschema.Schema
	if cfg.Schema != "" {
		var err error
		if schema, err = compileSchema(cfg.Schema); err != nil {
			return nil, err
		}
	}
	return &Webhook{
		cfg:    cfg,
		schema: schema,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// Handle implements MessageHandler. 2xx succeeds, 4xx is permanent, anything
// else is transient.
func (w *Webhook) Handle(ctx context.Context, msg *domain.IncomingMessage) error {
	contentType := msg.Headers[domain.HeaderContentType]
	if contentType == "" {
		contentType = "application/json"
	}
	if isJSON(contentType) {
		if err := w.validate(msg.Body); err != nil {
			return &recovery.MessageDeserializationError{MessageID: msg.MessageID, Err: err}
		}
	}

	body, err := w.encode(msg.Body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return recovery.Permanent(fmt.Errorf("failed to build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	if w.cfg.Compression == "br" {
		req.Header.Set("Content-Encoding", "br")
	}
	req.Header.Set(HeaderPrefix+"Message-Id", msg.MessageID)
	for k, v := range msg.Headers {
		if k == domain.HeaderContentType {
			continue
		}
		req.Header.Set(HeaderPrefix+k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests:
		return recovery.Permanent(fmt.Errorf("webhook rejected message: %d %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	default:
		return fmt.Errorf("webhook failed: %d %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
}

func (w *Webhook) validate(body []byte) error {
	if w.schema == nil {
		if !json.Valid(body) {
			return fmt.Errorf("body is not valid JSON")
		}
		return nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("body is not valid JSON: %w", err)
	}
	if err := w.schema.Validate(doc); err != nil {
		return fmt.Errorf("body does not match schema: %w", err)
	}
	return nil
}

const schemaURL = "https://redeliver.local/schemas/webhook-body.json"

func compileSchema(path string) (*jsonschema.Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse webhook schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add webhook schema: %w", err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile webhook schema: %w", err)
	}
	return schema, nil
}

func (w *Webhook) encode(body []byte) ([]byte, error) {
	if w.cfg.Compression != "br" {
		return body, nil
	}
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	if _, err := bw.Write(body); err != nil {
		return nil, fmt.Errorf("failed to compress webhook body: %w", err)
	}
	if err := bw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress webhook body: %w", err)
	}
	return buf.Bytes(), nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
