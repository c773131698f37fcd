package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/intel"
	"github.com/mikey/mail-sentinel/internal/utils"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIAnalyzer implements the detection pipeline contract with reputation
// signals plus an LLM scoring pass. Under SkipDeepAnalysis the LLM call is
// skipped and the score comes from signals alone.
type OpenAIAnalyzer struct {
	client        *openai.Client
	intel         *intel.Service
	textProcessor *utils.TextProcessor
	thresholds    Thresholds
	modelName     string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	logger        *zap.Logger
	promptFormat  string
}

// llmResponse represents the structured response expected from the model
type llmResponse struct {
	Score       float64 `json:"score"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// NewOpenAIAnalyzer creates a new OpenAI-backed analyzer
func NewOpenAIAnalyzer(
	client *openai.Client,
	intelSvc *intel.Service,
	textProcessor *utils.TextProcessor,
	thresholds Thresholds,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
) *OpenAIAnalyzer {
	return &OpenAIAnalyzer{
		client:        client,
		intel:         intelSvc,
		textProcessor: textProcessor,
		thresholds:    thresholds,
		modelName:     modelName,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
		maxBodySize:   maxBodySize,
		logger:        logger,
		promptFormat: `You are an email threat detection system. Analyze the following email for phishing, business email compromise and malware delivery risk.
Respond with a JSON object containing:
- score: number between 0 and 100 (higher means more likely malicious)
- confidence: number between 0 and 1 (how confident you are)
- explanation: string (brief explanation of the risk assessment)

Known reputation findings:
%s

Email:
From: %s
To: %s
Subject: %s
Body:
%s

Respond only with the JSON object and nothing else.`,
	}
}

// Analyze scores one email
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, tenantID string, email *core.Email, opts core.AnalyzeOptions) (*core.Verdict, error) {
	signals := collectSignals(ctx, a.intel, email, a.logger)
	baseScore := scoreFromSignals(signals)

	if opts.SkipDeepAnalysis {
		a.logger.Debug("Skipping deep analysis",
			zap.String("tenant_id", tenantID),
			zap.String("message_id", email.MessageID))
		return &core.Verdict{
			Class:       a.thresholds.Classify(baseScore),
			Score:       baseScore,
			Confidence:  0.5,
			Signals:     signals,
			Explanation: "Rules-only assessment (deep analysis skipped under time pressure)",
			CreatedAt:   time.Now(),
		}, nil
	}

	resp, err := a.scoreWithModel(ctx, email, signals)
	if err != nil {
		return nil, err
	}

	// The model never lowers the score below what the reputation
	// signals already established.
	score := resp.Score
	if baseScore > score {
		score = baseScore
	}

	return &core.Verdict{
		Class:       a.thresholds.Classify(score),
		Score:       score,
		Confidence:  resp.Confidence,
		Signals:     signals,
		Explanation: resp.Explanation,
		CreatedAt:   time.Now(),
	}, nil
}

func (a *OpenAIAnalyzer) scoreWithModel(ctx context.Context, email *core.Email, signals []core.Signal) (*llmResponse, error) {
	to := ""
	if len(email.To) > 0 {
		to = email.To[0]
		if len(email.To) > 1 {
			to += fmt.Sprintf(" and %d others", len(email.To)-1)
		}
	}

	var findings strings.Builder
	if len(signals) == 0 {
		findings.WriteString("(none)")
	}
	for _, sig := range signals {
		fmt.Fprintf(&findings, "- [%s] %s: %s\n", sig.Severity, sig.Type, sig.Detail)
	}

	body := a.textProcessor.ProcessText(email.Body, a.maxBodySize)
	prompt := fmt.Sprintf(a.promptFormat, findings.String(), email.From, to, email.Subject, body)

	req := openai.ChatCompletionRequest{
		Model: a.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an email threat detection system. Respond only with JSON.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
		TopP:        a.topP,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, core.TransientError(fmt.Errorf("chat completion failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, core.TransientError(fmt.Errorf("empty response from model"))
	}

	responseText := resp.Choices[0].Message.Content

	var parsed llmResponse
	if err := json.Unmarshal([]byte(responseText), &parsed); err != nil {
		// Some models wrap the JSON in prose; extract the outermost object
		start := strings.Index(responseText, "{")
		end := strings.LastIndex(responseText, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("failed to extract JSON from model response: %w", err)
		}
		if err := json.Unmarshal([]byte(responseText[start:end+1]), &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse model response as JSON: %w", err)
		}
	}

	if parsed.Score < 0 {
		parsed.Score = 0
	}
	if parsed.Score > 100 {
		parsed.Score = 100
	}
	return &parsed, nil
}
