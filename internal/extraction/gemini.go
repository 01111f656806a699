package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/zombor/invoice-reconciler/internal/reconcile"
)

var errNoCandidates = errors.New("no response from gemini")

// Gemini implements the Interpreter interface using Google Gemini
type Gemini struct {
	client     *genai.Client
	structured *genai.GenerativeModel
	plain      *genai.GenerativeModel
	timeout    time.Duration
	opts       Options
}

// NewGemini creates a new Gemini Interpreter instance
func NewGemini(ctx context.Context, apiKey string, modelName string, timeout time.Duration, opts Options) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	structured := client.GenerativeModel(modelName)
	structured.SetTemperature(0)
	structured.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))
	structured.ResponseMIMEType = "application/json"
	structured.ResponseSchema = geminiDocumentSchema()

	plain := client.GenerativeModel(modelName)
	plain.SetTemperature(0)
	plain.SystemInstruction = genai.NewUserContent(genai.Text(fallbackPrompt()))

	return &Gemini{
		client:     client,
		structured: structured,
		plain:      plain,
		timeout:    timeout,
		opts:       opts,
	}, nil
}

// Interpret asks for schema-constrained JSON first and falls back to a plain
// prompt carrying the schema.
func (g *Gemini) Interpret(ctx context.Context, text string) (*reconcile.Invoice, *reconcile.PurchaseOrder, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	content, err := generate(ctx, g.structured, text)
	if err == nil {
		inv, po, perr := parseDocuments(content, g.opts)
		if perr == nil {
			slog.Debug("Used structured output", "provider", "gemini")
			return inv, po, nil
		}
		err = fmt.Errorf("parsing structured response: %w", perr)
	}
	slog.Warn("Structured output failed, falling back to plain text", "provider", "gemini", "error", err)

	content, ferr := generate(ctx, g.plain, text)
	if ferr != nil {
		return nil, nil, fmt.Errorf("structured output: %v; plain text: %w", err, ferr)
	}
	inv, po, perr := parseDocuments(content, g.opts)
	if perr != nil {
		return nil, nil, fmt.Errorf("parsing plain text response: %w", perr)
	}
	return inv, po, nil
}

func generate(ctx context.Context, model *genai.GenerativeModel, text string) (string, error) {
	resp, err := model.GenerateContent(ctx, genai.Text(text))
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	return responseText(resp)
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errNoCandidates
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}

// geminiDocumentSchema mirrors documentSchema in Gemini's schema dialect,
// which has no free-form maps, so extra fees are reported as fee lines.
func geminiDocumentSchema() *genai.Schema {
	item := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"sku":              {Type: genai.TypeString, Nullable: true},
			"vpn":              {Type: genai.TypeString, Nullable: true},
			"description":      {Type: genai.TypeString},
			"unit_price":       {Type: genai.TypeNumber},
			"quantity_ordered": {Type: genai.TypeInteger},
			"quantity_shipped": {Type: genai.TypeInteger, Nullable: true},
			"total":            {Type: genai.TypeNumber},
			"is_fee":           {Type: genai.TypeBoolean},
		},
		Required: []string{"description", "unit_price", "quantity_ordered", "total"},
	}
	items := &genai.Schema{Type: genai.TypeArray, Items: item}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"invoice": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"invoice_number": {Type: genai.TypeString},
					"po_number":      {Type: genai.TypeString},
					"vendor":         {Type: genai.TypeString},
					"items":          items,
					"is_credit_memo": {Type: genai.TypeBoolean},
				},
				Required: []string{"invoice_number", "po_number", "items"},
			},
			"purchase_order": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"po_number": {Type: genai.TypeString},
					"items":     items,
				},
				Required: []string{"po_number", "items"},
			},
		},
		Required: []string{"invoice", "purchase_order"},
	}
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
