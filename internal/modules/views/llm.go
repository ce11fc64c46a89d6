package views

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	oa "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o"

// Evidence tiers reported in a scorecard.
const (
	Tier1 = "Tier 1"
	Tier2 = "Tier 2"
	Tier3 = "Tier 3"
)

var tierConfidence = map[string]float64{
	Tier1: 0.95,
	Tier2: 0.80,
}

const (
	maxImpliedReturn = 0.80
	minImpliedReturn = -0.50
	minViewMagnitude = 0.02
)

// Completer sends one system/user prompt pair to a language model.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// OpenAICompleter is a Completer backed by the OpenAI chat API.
type OpenAICompleter struct {
	cli   oa.Client
	model string
}

// NewOpenAICompleter creates an OpenAI chat client.
func NewOpenAICompleter(apiKey, model string, opts ...option.RequestOption) *OpenAICompleter {
	if model == "" {
		model = DefaultOpenAIModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAICompleter{cli: oa.NewClient(opts...), model: model}
}

// Complete implements Completer with temperature 0 for reproducible extraction.
func (c *OpenAICompleter) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.cli.Chat.Completions.New(ctx, oa.ChatCompletionNewParams{
		Model: oa.ChatModel(c.model),
		Messages: []oa.ChatCompletionMessageParamUnion{
			oa.SystemMessage(system),
			oa.UserMessage(user),
		},
		Temperature: oa.Float(0),
		MaxTokens:   oa.Int(1500),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

// Scorecard is the structured signal the model extracts for one ticker.
type Scorecard struct {
	Ticker       string   `json:"ticker"`
	Sentiment    string   `json:"sentiment"` // Bullish, Bearish or Neutral
	TargetPrice  *float64 `json:"target_price"`
	CurrentPrice *float64 `json:"current_price"`
	Tier         string   `json:"tier"`
	Catalyst     string   `json:"catalyst"`
}

type scorecardList struct {
	Views []Scorecard `json:"views"`
}

// LLMGenerator asks a language model for analyst scorecards and converts them
// deterministically into views.
type LLMGenerator struct {
	completer Completer
	log       zerolog.Logger
}

// NewLLMGenerator creates an LLM view source.
func NewLLMGenerator(completer Completer, log zerolog.Logger) *LLMGenerator {
	return &LLMGenerator{
		completer: completer,
		log:       log.With().Str("component", "llm_views").Logger(),
	}
}

// Name implements Generator.
func (g *LLMGenerator) Name() string { return SourceLLM }

const scorecardSystemPrompt = `You are a quantitative data extractor. Do not predict the future.
Extract hard data points for each ticker into a signal scorecard.

For each ticker report:
- sentiment: "Bullish", "Bearish" or "Neutral"
- target_price: the average analyst price target, or null when none was published recently
- current_price: the current price referenced by the source, or null
- tier: "Tier 1" for confirmed hard events (earnings surprise above 5%, M&A, filings),
  "Tier 2" for institutional opinion (price target changes by major banks),
  "Tier 3" for noise (blogs, technical analysis, general sentiment)
- catalyst: one sentence

Neutral or Tier 3 entries are discarded. Never invent prices.
Answer with JSON only: {"views":[{"ticker":"...","sentiment":"...","target_price":null,"current_price":null,"tier":"...","catalyst":"..."}]}`

// Generate implements Generator.
func (g *LLMGenerator) Generate(ctx context.Context, mc MarketContext) (domain.ViewSet, error) {
	assets := mc.Assets()
	if len(assets) == 0 {
		return nil, nil
	}
	prices := mc.LatestPrices()

	var summary strings.Builder
	names := append([]string(nil), assets...)
	sort.Strings(names)
	for _, asset := range names {
		if p, ok := prices[asset]; ok {
			fmt.Fprintf(&summary, "%s: %.2f\n", asset, p)
		}
	}
	user := fmt.Sprintf("[Market context - recent prices]\n%s\n[Task]\nAnalyze %s for date %s. Populate the scorecard JSON.",
		summary.String(), strings.Join(assets, ", "), mc.AsOf.Format("2006-01-02"))

	content, err := g.completer.Complete(ctx, scorecardSystemPrompt, user)
	if err != nil {
		return nil, domain.Errorf(domain.ErrView, "llm scoring failed: %v", err)
	}

	cards, err := ParseScorecards(content)
	if err != nil {
		return nil, err
	}

	var out domain.ViewSet
	for _, card := range cards {
		view, ok := ScorecardView(card, prices[card.Ticker])
		if !ok {
			g.log.Debug().Str("ticker", card.Ticker).Str("tier", card.Tier).Str("sentiment", card.Sentiment).Msg("Scorecard discarded")
			continue
		}
		out = append(out, view)
	}
	out = keepKnown(out, assets, g.log)

	g.log.Info().Int("scorecards", len(cards)).Int("views", len(out)).Msg("Generated calibrated LLM views")
	return out, nil
}

// ParseScorecards extracts the scorecard list from a model answer, tolerating
// surrounding prose or code fences.
func ParseScorecards(content string) ([]Scorecard, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, domain.Errorf(domain.ErrView, "llm answer contains no JSON object")
	}

	var list scorecardList
	if err := json.Unmarshal([]byte(content[start:end+1]), &list); err != nil {
		return nil, domain.Errorf(domain.ErrView, "failed to parse scorecards: %v", err)
	}
	return list.Views, nil
}

// ScorecardView converts a scorecard into an annualised absolute view.
// fallbackPrice is used when the scorecard carries no current price.
func ScorecardView(card Scorecard, fallbackPrice float64) (domain.View, bool) {
	confidence, ok := tierConfidence[card.Tier]
	if !ok || card.Sentiment == "Neutral" || card.Ticker == "" {
		return domain.View{}, false
	}

	current := fallbackPrice
	if card.CurrentPrice != nil && *card.CurrentPrice > 0 {
		current = *card.CurrentPrice
	}

	var expected float64
	if card.TargetPrice != nil && *card.TargetPrice > 0 && current > 0 {
		upside := (*card.TargetPrice - current) / current
		expected = math.Max(math.Min(upside, maxImpliedReturn), minImpliedReturn)
	} else {
		direction := 1.0
		if card.Sentiment == "Bearish" {
			direction = -1
		}
		move := 0.10
		if card.Tier == Tier1 {
			move = 0.20
		}
		expected = direction * move
	}

	if math.Abs(expected) < minViewMagnitude {
		return domain.View{}, false
	}

	return domain.View{
		Assets:         []string{card.Ticker},
		Weights:        []float64{1},
		ExpectedReturn: expected,
		Confidence:     confidence,
		Description:    fmt.Sprintf("[%s] %s (implied return %.2f%%)", card.Tier, card.Catalyst, expected*100),
		Source:         SourceLLM,
	}, true
}
