package dossier

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// Generator produces a prospect dossier from scraped website content.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Page is one scraped page fed into dossier generation.
type Page struct {
	URL     string
	Title   string
	Content string
}

// Request describes the business and the material to summarize.
type Request struct {
	BusinessName string
	Vertical     string
	Pages        []Page
}

const systemPrompt = `You are a sales researcher. Given scraped pages from a ` +
	`prospect's website, write a concise dossier: what the business does, who ` +
	`its customers are, visible strengths and weaknesses of its web presence, ` +
	`and two or three concrete talking points for an outreach call. Be factual; ` +
	`only use what the pages support.`

// sdkGenerator implements Generator using the official anthropic-sdk-go.
type sdkGenerator struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

// New creates a Generator backed by the SDK.
func New(apiKey, model string, maxTokens int64) Generator {
	return &sdkGenerator{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
		),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (g *sdkGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if len(req.Pages) == 0 {
		return "", eris.New("dossier: no pages to summarize")
	}

	msg, err := g.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(g.model),
		MaxTokens: g.maxTokens,
		System: []sdk.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(buildPrompt(req))),
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "dossier: create message")
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", eris.New("dossier: empty response")
	}
	return out.String(), nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Business: %s\n", req.BusinessName)
	if req.Vertical != "" {
		fmt.Fprintf(&b, "Vertical: %s\n", req.Vertical)
	}
	b.WriteString("\nScraped pages:\n")
	for _, p := range req.Pages {
		fmt.Fprintf(&b, "\n--- %s (%s) ---\n%s\n", p.Title, p.URL, p.Content)
	}
	return b.String()
}
