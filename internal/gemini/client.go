// Package gemini implements the integration with Google's Gemini API used
// for post categorization and reaction generation, plus the parsing of the
// JSON payloads the model returns.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/newstate/reactor/internal/config"
)

// Client defines the language model operations used by the pipeline.
// Calls either take a single prompt or a (system, user) role pair and return
// the raw response text; parsing is the caller's concern.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateWithRoles(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type sdkClient struct {
	genaiClient      *genai.Client
	log              *slog.Logger
	contentConfig    *genai.GenerateContentConfig
	defaultModelName string
	maxRetries       int
	retryDelay       time.Duration
}

// NewClient creates a new Gemini client with the provided configuration.
// It initializes the connection to the Gemini API and sets up necessary parameters.
func NewClient(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	baseCfg := &genai.GenerateContentConfig{
		Temperature: &cfg.Temperature,
	}

	logger := log.With("component", "gemini_client")
	logger.Info("Gemini client initialized successfully", "model", cfg.ModelName)
	return &sdkClient{
		genaiClient:      gi,
		log:              logger,
		contentConfig:    baseCfg,
		defaultModelName: cfg.ModelName,
		maxRetries:       cfg.MaxRetries,
		retryDelay:       time.Duration(cfg.RetryDelaySeconds) * time.Second,
	}, nil
}

func (c *sdkClient) Generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := c.generateContentWithRetries(ctx, c.defaultModelName, contents, c.contentConfig)
	if err != nil {
		return "", err
	}
	return c.extractTextFromResponse(ctx, resp)
}

func (c *sdkClient) GenerateWithRoles(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	copyCfg := *c.contentConfig
	if systemPrompt != "" {
		copyCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}

	contents := []*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}

	resp, err := c.generateContentWithRetries(ctx, c.defaultModelName, contents, &copyCfg)
	if err != nil {
		return "", err
	}
	return c.extractTextFromResponse(ctx, resp)
}

func (c *sdkClient) generateContentWithRetries(ctx context.Context, modelName string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	var err error

	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.genaiClient.Models.GenerateContent(ctx, modelName, contents, cfg)
		if err == nil {
			return resp, nil
		}

		c.log.WarnContext(ctx, "Gemini API call failed, checking for retry", "attempt", i+1, "max_retries", c.maxRetries, "error", err)

		var genAiAPIError *genai.APIError
		if errors.As(err, &genAiAPIError) && (genAiAPIError.Code == 500 || genAiAPIError.Code == 503) { // Retriable HTTP codes
			if i < c.maxRetries {
				c.log.InfoContext(ctx, "Retrying Gemini API call due to retriable APIError", "delay", c.retryDelay, "code", genAiAPIError.Code)
				time.Sleep(c.retryDelay)
				continue
			}
			c.log.ErrorContext(ctx, "Gemini API call failed after max retries with APIError", "error", err, "code", genAiAPIError.Code)
			return nil, fmt.Errorf("gemini API call failed after %d retries (APIError code %d): %w", c.maxRetries, genAiAPIError.Code, err)
		}

		c.log.ErrorContext(ctx, "Gemini API call failed with non-retriable error", "error", err)
		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}
	return nil, err
}

func (c *sdkClient) extractTextFromResponse(ctx context.Context, resp *genai.GenerateContentResponse) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reasonMsg := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reasonMsg = resp.PromptFeedback.BlockReasonMessage
		}
		c.log.ErrorContext(ctx, "Gemini request blocked", "reason", reasonMsg)
		return "", fmt.Errorf("request blocked by safety filter: %s", reasonMsg)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = fmt.Sprintf("%v", resp.Candidates[0].FinishReason)
		}
		c.log.WarnContext(ctx, "Gemini response missing candidates or content", "finish_reason", finishReason)
		return "", fmt.Errorf("model returned no content, finish reason: %s", finishReason)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("model returned empty text")
	}
	return text, nil
}
