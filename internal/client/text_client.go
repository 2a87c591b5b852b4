package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/config"
	"github.com/makeasinger/storystudio/internal/model"
)

// TextClient talks to an OpenAI-compatible chat completion endpoint (Groq by default)
type TextClient struct {
	client      *openai.Client
	apiKey      string
	model       string
	visionModel string
	jsonSchema  bool
	logger      *zap.Logger
}

// NewTextClient creates a new text provider client
func NewTextClient(cfg *config.TextConfig, logger *zap.Logger) *TextClient {
	visionModel := cfg.VisionModel
	if visionModel == "" {
		visionModel = cfg.Model
	}
	return &TextClient{
		client:      newOpenAIClient(cfg.APIKey, cfg.BaseURL),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		visionModel: visionModel,
		jsonSchema:  cfg.JSONSchema,
		logger:      logger.Named("text"),
	}
}

// GenerateText sends a chat completion request and returns the first choice
func (c *TextClient) GenerateText(ctx context.Context, req *TextRequest) (string, error) {
	prompt, err := composePrompt(req)
	if err != nil {
		return "", model.WrapError(model.KindInvalidRequest, err, "failed to encode prompt context")
	}

	system := req.System
	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: req.Temperature,
	}

	if req.Schema != nil {
		if c.jsonSchema {
			chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
					Name:        req.Schema.Name,
					Description: req.Schema.Description,
					Schema:      req.Schema,
				},
			}
		} else {
			schemaJSON, err := json.Marshal(req.Schema)
			if err != nil {
				return "", model.WrapError(model.KindInvalidRequest, err, "failed to encode schema")
			}
			system = strings.TrimSpace(system + "\n\nRespond with a single JSON object matching this JSON schema and nothing else:\n" + string(schemaJSON))
			chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			}
		}
	}

	if system != "" {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(req.ImageURLs) > 0 {
		chatReq.Model = c.visionModel
		user.MultiContent = []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: prompt}}
		for _, u := range req.ImageURLs {
			user.MultiContent = append(user.MultiContent, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: u, Detail: openai.ImageURLDetailAuto},
			})
		}
	} else {
		user.Content = prompt
	}
	chatReq.Messages = append(chatReq.Messages, user)

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		c.logger.Warn("Chat completion failed", zap.String("model", chatReq.Model), zap.Error(err))
		return "", classifyOpenAI("text provider", err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", model.NewError(model.KindEmptyResponse, "text provider returned no content")
	}

	c.logger.Debug("Chat completion",
		zap.String("model", chatReq.Model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))

	return resp.Choices[0].Message.Content, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *TextClient) IsConfigured() bool {
	return c.apiKey != ""
}

func composePrompt(req *TextRequest) (string, error) {
	if req.Context == nil {
		return req.Prompt, nil
	}
	data, err := json.MarshalIndent(req.Context, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s\n\nContext:\n%s", req.Prompt, data), nil
}
