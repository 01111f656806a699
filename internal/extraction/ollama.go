package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/invoice-reconciler/internal/reconcile"
)

// Ollama implements the Interpreter interface using a local Ollama server
type Ollama struct {
	baseURL string
	model   string
	timeout time.Duration
	opts    Options
	client  *http.Client
}

// NewOllama creates a new Ollama Interpreter instance
// Models with good instruction following on long tables work best, for
// example llama3.1 or qwen2.5.
func NewOllama(baseURL string, modelName string, timeout time.Duration, opts Options) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llama3.1"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Ollama{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   modelName,
		timeout: timeout,
		opts:    opts,
		client:  &http.Client{},
	}, nil
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   any             `json:"format,omitempty"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Interpret asks the model for schema-constrained JSON and falls back to a
// plain prompt carrying the schema when that fails.
func (o *Ollama) Interpret(ctx context.Context, text string) (*reconcile.Invoice, *reconcile.PurchaseOrder, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	content, err := o.chat(ctx, systemPrompt, text, documentSchema())
	if err == nil {
		inv, po, perr := parseDocuments(content, o.opts)
		if perr == nil {
			slog.Debug("Used structured output", "model", o.model)
			return inv, po, nil
		}
		err = fmt.Errorf("parsing structured response: %w", perr)
	}
	slog.Warn("Structured output failed, falling back to plain text", "model", o.model, "error", err)

	content, ferr := o.chat(ctx, fallbackPrompt(), text, nil)
	if ferr != nil {
		return nil, nil, fmt.Errorf("structured output: %v; plain text: %w", err, ferr)
	}
	inv, po, perr := parseDocuments(content, o.opts)
	if perr != nil {
		return nil, nil, fmt.Errorf("parsing plain text response: %w", perr)
	}
	slog.Debug("Used plain text fallback", "model", o.model)
	return inv, po, nil
}

func (o *Ollama) chat(ctx context.Context, system, user string, format any) (string, error) {
	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Messages: []ollamaMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Format: format,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return chatResp.Message.Content, nil
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
