// Package google adapts the Gemini API (google.golang.org/genai) to
// llm.Provider.
package google

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"hcme/internal/llm"
)

type Provider struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, apiKey, model string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("google: new client: %w", err)
	}
	return &Provider{client: client, model: model}, nil
}

func (p *Provider) Chat(ctx context.Context, req llm.Request) (llm.Response, error) {
	var system string
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system += m.Content
		case "user", "tool":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		}
	}

	var cfg *genai.GenerateContentConfig
	if system != "" || len(req.Tools) > 0 {
		cfg = &genai.GenerateContentConfig{}
		if system != "" {
			cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
		}
		for _, t := range req.Tools {
			cfg.Tools = append(cfg.Tools, &genai.Tool{
				FunctionDeclarations: []*genai.FunctionDeclaration{{
					Name:        t.Name,
					Description: t.Description,
				}},
			})
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return llm.Response{}, fmt.Errorf("google: chat %q: %w", req.RequestID, err)
	}

	var out llm.Response
	out.Content = resp.Text()
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.FunctionCall != nil {
				out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				})
			}
		}
	}
	return out, nil
}
