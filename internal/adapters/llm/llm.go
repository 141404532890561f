// Package llm wraps Genkit's multi-provider model access behind the
// shared adapters.Adapter contract. Provider selection and the
// deterministic no-LLM fallback mirror the teacher's GenkitBrain
// initialization; only the response shape differs, since this adapter
// produces prompt/response text for the intent classifier
// (internal/classifier) rather than a chat reply.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/basket/boss/internal/adapters"
)

// Config selects the LLM provider and model, mirroring the environment
// variables internal/config.Config exposes.
type Config struct {
	Provider string // "anthropic", "openai", "openai_compatible", "openrouter", "google"
	Model    string
	APIKey   string

	OpenAICompatibleProvider string
	OpenAICompatibleBaseURL  string
}

// GenerateOperation is the adapters.Operation this adapter understands: a
// single-turn system+user prompt pair with no conversation history, since
// classification and auto-review scoring are both stateless per call.
type GenerateOperation struct {
	System string
	Prompt string
}

type GenerateResult struct {
	Text string
}

type LLM struct {
	g        *genkit.Genkit
	cfg      Config
	modelRef string
	llmOn    bool
}

func New(ctx context.Context, cfg Config) *LLM {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelForProvider(provider)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)

	var g *genkit.Genkit
	llmOn := false
	modelRef := model

	switch provider {
	case "anthropic":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{APIKey: apiKey}))
			llmOn = true
		} else {
			g = genkit.Init(ctx)
		}
	case "openai":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{Provider: "openai", APIKey: apiKey}))
			llmOn = true
		} else {
			g = genkit.Init(ctx)
		}
	case "openai_compatible":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: cfg.OpenAICompatibleProvider,
				APIKey:   apiKey,
				BaseURL:  cfg.OpenAICompatibleBaseURL,
			}))
			llmOn = true
		} else {
			g = genkit.Init(ctx)
		}
	case "openrouter":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openrouter",
				APIKey:   apiKey,
				BaseURL:  "https://openrouter.ai/api/v1",
			}))
			llmOn = true
		} else {
			g = genkit.Init(ctx)
		}
	case "google":
		if apiKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", apiKey)
			g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
			llmOn = true
			modelRef = "googleai/" + model
		} else {
			g = genkit.Init(ctx)
		}
	default:
		g = genkit.Init(ctx)
		slog.Warn("llm: unknown provider, using deterministic fallback", "provider", provider)
	}

	if llmOn {
		slog.Info("llm adapter initialized", "provider", provider, "model", modelRef)
	} else {
		slog.Warn("llm: no API key configured, deterministic fallback active", "provider", provider)
	}

	return &LLM{g: g, cfg: cfg, modelRef: modelRef, llmOn: llmOn}
}

// Available reports whether a real provider is wired up, for callers that
// need to choose between an LLM call and a deterministic heuristic
// (classification confidence scoring, auto-review).
func (l *LLM) Available() bool { return l.llmOn }

func (l *LLM) Name() string { return "llm" }

func (l *LLM) Execute(ctx context.Context, op adapters.Operation) (adapters.Result, *adapters.AdapterError) {
	gen, ok := op.(GenerateOperation)
	if !ok {
		return nil, &adapters.AdapterError{Kind: adapters.KindPermanent, Err: fmt.Errorf("llm: unsupported operation %T", op)}
	}
	if !l.llmOn {
		return nil, &adapters.AdapterError{Kind: adapters.KindPermanent, Err: fmt.Errorf("llm: no provider configured")}
	}

	resp, err := genkit.Generate(ctx, l.g,
		ai.WithModelName(l.modelRef),
		ai.WithSystem(gen.System),
		ai.WithPrompt(gen.Prompt),
	)
	if err != nil {
		return nil, classifyGenerateErr(err)
	}
	return GenerateResult{Text: resp.Text()}, nil
}

func classifyGenerateErr(err error) *adapters.AdapterError {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return &adapters.AdapterError{Kind: adapters.KindRateLimited, Err: err}
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key"):
		return &adapters.AdapterError{Kind: adapters.KindUnauthorized, Err: err}
	default:
		return &adapters.AdapterError{Kind: adapters.KindTransient, Err: err}
	}
}

func defaultModelForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-3-5-sonnet-20241022"
	case "openai":
		return "gpt-4o-mini"
	case "openai_compatible":
		return "gpt-4o-mini"
	case "openrouter":
		return "anthropic/claude-sonnet-4-5-20250929"
	case "google":
		return "gemini-2.5-flash"
	default:
		return "gemini-2.5-flash"
	}
}
