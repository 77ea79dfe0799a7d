package score

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// SystemPrompt instructs the model to answer with a bare 0-100 number
const SystemPrompt = "You are ranking web pages for likelihood of containing downloadable datasets. " +
	"Given the HTML snippet, respond with ONLY a number from 0 to 100, where 100 is very likely."

const (
	maxExcerptRunes = 8000
	judgeMaxTokens  = 4
)

var aiScorePattern = regexp.MustCompile(`(\d{1,3})`)

// Judge rates a page excerpt on a 0-100 scale. ok is false when no usable
// rating could be obtained; callers then fall back to the heuristic.
type Judge interface {
	Judge(ctx context.Context, excerpt string) (score float64, ok bool)
}

// LLMJudge implements Judge with a language model.
type LLMJudge struct {
	model llms.Model
	log   *logrus.Entry
}

// NewLLMJudge wraps an llms.Model
func NewLLMJudge(model llms.Model, log *logrus.Entry) *LLMJudge {
	return &LLMJudge{model: model, log: log}
}

// OpenAIConfig selects an OpenAI-compatible chat model
type OpenAIConfig struct {
	Model   string
	APIKey  string
	BaseURL string        // Optional; empty uses the provider default
	Timeout time.Duration // Per-request HTTP timeout; zero leaves only the caller's deadline
}

// ErrNoAPIKey is returned when AI scoring is requested without credentials
var ErrNoAPIKey = errors.New("AI scoring enabled but no API key configured")

// NewOpenAIJudge builds an LLMJudge on langchaingo's OpenAI provider.
func NewOpenAIJudge(cfg OpenAIConfig, log *logrus.Entry) (*LLMJudge, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, openai.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	return NewLLMJudge(model, log.WithField("ai_model", cfg.Model)), nil
}

// NewJudge returns the judge for a run, or nil when AI scoring is disabled or
// cannot be configured. A configuration problem is logged once here and the
// run continues on the heuristic alone.
func NewJudge(enabled bool, cfg OpenAIConfig, log *logrus.Entry) Judge {
	if !enabled {
		return nil
	}
	judge, err := NewOpenAIJudge(cfg, log)
	if err != nil {
		log.Warnf("AI scoring disabled for this run: %v", err)
		return nil
	}
	return judge
}

// Judge implements Judge. Only the first 8000 characters of excerpt are sent.
func (j *LLMJudge) Judge(ctx context.Context, excerpt string) (float64, bool) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, truncateRunes(excerpt, maxExcerptRunes)),
	}
	resp, err := j.model.GenerateContent(ctx, messages,
		llms.WithTemperature(0),
		llms.WithMaxTokens(judgeMaxTokens),
	)
	if err != nil {
		j.log.Debugf("AI judge call failed: %v", err)
		return 0, false
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		j.log.Debug("AI judge returned no choices")
		return 0, false
	}
	score, ok := ParseAIScore(resp.Choices[0].Content)
	if !ok {
		j.log.Debugf("AI judge reply not a score: %q", resp.Choices[0].Content)
	}
	return score, ok
}

// ParseAIScore extracts the first 1-3 digit integer from a model reply and
// clamps it to [0, 100].
func ParseAIScore(reply string) (float64, bool) {
	match := aiScorePattern.FindString(reply)
	if match == "" {
		return 0, false
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	return clamp(float64(n)), true
}
