package analyze

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sift/internal/model"
	"github.com/sells-group/sift/pkg/anthropic"
)

const recipeJSON = "```json\n" + `{
  "title": "Weeknight Tomato Pasta",
  "category": "cooking",
  "tags": ["Cooking", "Dinner", "Cooking", "Lifestyle", "Baking"],
  "summary": "A fast pasta.\n\n## Ingredients\n- **200g** spaghetti\n\n## Preparation\n1. Boil."
}` + "\n```"

var recipe = model.Content{
	Title:    "Weeknight Pasta",
	Text:     "Boil the pasta. Simmer the sauce.",
	ImageURL: "https://example.com/pasta.jpg",
	Platform: model.PlatformWeb,
	Source:   "web",
}

func TestAnalyze_Success(t *testing.T) {
	m := new(mockAnthropicClient)
	m.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == DefaultModel &&
			len(req.System) == 1 && req.System[0].CacheControl != nil &&
			len(req.Messages) == 1 &&
			len(req.Messages[0].ImageURLs) == 1 &&
			strings.Contains(req.Messages[0].Content, "Weeknight Pasta")
	})).Return(textResponse(recipeJSON), nil).Once()

	a, err := New(m, Config{}).Analyze(context.Background(), recipe)
	require.NoError(t, err)

	assert.Equal(t, "Weeknight Tomato Pasta", a.Title)
	assert.Equal(t, "Cooking", a.Category)
	assert.Equal(t, []string{"Cooking", "Lifestyle", "Baking"}, a.Tags)
	assert.Contains(t, a.Summary, "## Ingredients")
	assert.Equal(t, 1000, a.Usage.InputTokens)
	assert.Greater(t, a.Usage.Cost, 0.0)
	m.AssertExpectations(t)
}

func TestAnalyze_RetriesOnceOnMalformed(t *testing.T) {
	m := new(mockAnthropicClient)
	m.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages) == 1
	})).Return(textResponse("Sure! Here is your summary of the page."), nil).Once()
	m.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		last := req.Messages[len(req.Messages)-1]
		return len(req.Messages) == 3 && last.Role == "user" && last.Content == retryInstruction
	})).Return(textResponse(`{"title":"T","category":"Tech","tags":["Tech"],"summary":"S"}`), nil).Once()

	a, err := New(m, Config{}).Analyze(context.Background(), recipe)
	require.NoError(t, err)
	assert.Equal(t, "Tech", a.Category)
	assert.Equal(t, []string{"Tech", "Lifestyle"}, a.Tags)
	assert.Equal(t, 2000, a.Usage.InputTokens)
	m.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestAnalyze_MalformedTwice(t *testing.T) {
	m := new(mockAnthropicClient)
	m.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(`{"title": "oops"`), nil)

	_, err := New(m, Config{}).Analyze(context.Background(), recipe)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrAnalysisFailed))

	var ae *AnalysisError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, 2, ae.Attempts)
	m.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestAnalyze_MissingFieldsRetried(t *testing.T) {
	m := new(mockAnthropicClient)
	m.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"title":"No summary","category":"Tech","tags":["Tech"]}`), nil)

	_, err := New(m, Config{}).Analyze(context.Background(), recipe)
	require.Error(t, err)
	assert.ErrorContains(t, err, "missing summary")
	m.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestAnalyze_TransportErrorCountsAsAttempt(t *testing.T) {
	m := new(mockAnthropicClient)
	m.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset by peer")).Once()
	m.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"title":"T","category":"News","tags":["Professional","Tech"],"summary":"S"}`), nil).Once()

	a, err := New(m, Config{}).Analyze(context.Background(), recipe)
	require.NoError(t, err)
	assert.Equal(t, "News", a.Category)
	assert.Equal(t, []string{"Professional", "Tech"}, a.Tags)
	m.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestAnalyze_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := new(mockAnthropicClient)
	m.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, context.Canceled)

	_, err := New(m, Config{}).Analyze(ctx, recipe)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrAnalysisFailed)
	assert.ErrorIs(t, err, context.Canceled)
	m.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestAnalyze_ImageOnly(t *testing.T) {
	m := new(mockAnthropicClient)
	m.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		msg := req.Messages[0]
		return msg.Content == imageOnlyInstruction &&
			len(msg.ImageURLs) == 1 && msg.ImageURLs[0] == "https://cdn.example.com/cat.png"
	})).Return(textResponse(`{"title":"A cat","category":"Design","tags":[],"summary":"A cat on a sofa."}`), nil).Once()

	a, err := New(m, Config{}).Analyze(context.Background(), model.Content{
		ImageURL: "https://cdn.example.com/cat.png",
		Platform: model.PlatformDirectImage,
	})
	require.NoError(t, err)
	assert.Equal(t, "Design", a.Category)
	assert.Equal(t, []string{"Lifestyle", "Cooking"}, a.Tags)
	m.AssertExpectations(t)
}

func TestAnalyze_EmptyContent(t *testing.T) {
	m := new(mockAnthropicClient)
	_, err := New(m, Config{}).Analyze(context.Background(), model.Content{})
	assert.ErrorIs(t, err, model.ErrAnalysisFailed)
	m.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestAnalyze_TruncatesInput(t *testing.T) {
	long := model.Content{Title: "Long", Text: strings.Repeat("word ", 10_000)}
	m := new(mockAnthropicClient)
	m.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages[0].Content) < 1_000
	})).Return(textResponse(`{"title":"T","category":"Random","tags":["Health","Baking"],"summary":"S"}`), nil).Once()

	_, err := New(m, Config{MaxInputChars: 500}).Analyze(context.Background(), long)
	require.NoError(t, err)
	m.AssertExpectations(t)
}

func TestSystemPrompt(t *testing.T) {
	p := systemPrompt(DefaultTaxonomy())
	assert.Contains(t, p, `["Cooking","Baking","Tech","Health","Lifestyle","Professional"]`)
	assert.Contains(t, p, "Cooking, Tech, Design, Health, Fashion, News, Random")
	assert.Contains(t, p, "## Ingredients")
}
