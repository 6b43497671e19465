package answers

import (
	"context"
	"fmt"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rageval/harness/internal/llm"
	"github.com/rageval/harness/internal/metering"
	"github.com/rageval/harness/internal/vector"
)

type fakeChat struct {
	calls  int
	onCall func(req llm.ChatRequest) (*llm.ChatResponse, error)
}

func (f *fakeChat) CompleteWithTools(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls++
	return f.onCall(req)
}

func (f *fakeChat) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := f.CompleteWithTools(ctx, llm.ChatRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
	})
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: resp.Message.Content, Usage: resp.Usage}, nil
}

func assistantAnswer(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message: openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: text,
		},
		Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5},
	}
}

func assistantToolCall(id string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message: openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleAssistant,
			ToolCalls: []openai.ToolCall{{
				ID:   id,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      searchToolName,
					Arguments: `{"document_name":"a.pdf","query":"term"}`,
				},
			}},
		},
		Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5},
	}
}

func noopSearch(_ context.Context, _ string) ([]vector.SearchResult, error) {
	return []vector.SearchResult{{ParagraphID: "par_1", Text: "excerpt", Page: 1}}, nil
}

func TestSessionDirectAnswer(t *testing.T) {
	chat := &fakeChat{onCall: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		require.NotEmpty(t, req.Tools)
		return assistantAnswer("direct answer"), nil
	}}

	s := NewSession(chat, "chat-model", metering.NewAggregator(), noopSearch, "a.pdf")
	res, err := s.Answer(context.Background(), "What is the term?")
	require.NoError(t, err)

	assert.Equal(t, "direct answer", res.Answer)
	assert.Equal(t, 0, res.Iterations)
	assert.False(t, res.Forced)
	assert.Equal(t, 1, chat.calls)
	require.Len(t, res.Transcript, 3)
	assert.Contains(t, res.Transcript[0].Content, "DOC NAME: a.pdf")
}

func TestSessionIterationBound(t *testing.T) {
	searches := 0
	search := func(ctx context.Context, query string) ([]vector.SearchResult, error) {
		searches++
		return noopSearch(ctx, query)
	}

	chat := &fakeChat{}
	chat.onCall = func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		if req.Tools == nil {
			last := req.Messages[len(req.Messages)-1]
			assert.Equal(t, openai.ChatMessageRoleUser, last.Role)
			assert.True(t, strings.HasPrefix(last.Content, "Give your final answer"))
			return assistantAnswer("forced answer"), nil
		}
		return assistantToolCall(fmt.Sprintf("call-%d", chat.calls)), nil
	}

	agg := metering.NewAggregator()
	s := NewSession(chat, "chat-model", agg, search, "a.pdf")
	res, err := s.Answer(context.Background(), "What is the term?")
	require.NoError(t, err)

	assert.Equal(t, "forced answer", res.Answer)
	assert.True(t, res.Forced)
	assert.Equal(t, maxToolIterations, res.Iterations)
	assert.Equal(t, maxToolIterations, searches)
	assert.Equal(t, maxToolIterations+1, chat.calls)

	snap := agg.Snapshot()
	assert.Equal(t, maxToolIterations+1, snap[metering.StageAnswers]["chat-model"].RequestsCnt)
}

func TestSessionForcedTurnIgnoresToolCalls(t *testing.T) {
	searches := 0
	search := func(ctx context.Context, query string) ([]vector.SearchResult, error) {
		searches++
		return noopSearch(ctx, query)
	}

	// The model keeps calling the tool even after tools are withdrawn.
	chat := &fakeChat{}
	chat.onCall = func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		return assistantToolCall(fmt.Sprintf("call-%d", chat.calls)), nil
	}

	s := NewSession(chat, "chat-model", metering.NewAggregator(), search, "a.pdf")
	res, err := s.Answer(context.Background(), "What is the term?")
	require.NoError(t, err)

	assert.True(t, res.Forced)
	assert.Equal(t, "", res.Answer)
	assert.Equal(t, maxToolIterations, searches, "the forced turn's tool calls are never executed")
	assert.Equal(t, maxToolIterations+1, chat.calls)

	last := res.Transcript[len(res.Transcript)-1]
	assert.Equal(t, openai.ChatMessageRoleAssistant, last.Role)
}

func TestSessionToolCallErrors(t *testing.T) {
	s := NewSession(nil, "m", metering.NewAggregator(), noopSearch, "a.pdf")

	cases := []struct {
		name string
		call openai.ToolCall
		want string
	}{
		{
			name: "unknown tool",
			call: openai.ToolCall{Function: openai.FunctionCall{Name: "other_tool", Arguments: "{}"}},
			want: `unknown tool "other_tool"`,
		},
		{
			name: "malformed arguments",
			call: openai.ToolCall{Function: openai.FunctionCall{Name: searchToolName, Arguments: "{"}},
			want: "malformed arguments",
		},
		{
			name: "missing query",
			call: openai.ToolCall{Function: openai.FunctionCall{Name: searchToolName, Arguments: `{"document_name":"a.pdf"}`}},
			want: "'query' is required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := s.executeToolCall(context.Background(), tc.call)
			assert.Contains(t, out, tc.want)
		})
	}
}

func TestSessionSearchFailureIsReportedToModel(t *testing.T) {
	search := func(_ context.Context, _ string) ([]vector.SearchResult, error) {
		return nil, fmt.Errorf("store unavailable")
	}
	s := NewSession(nil, "m", metering.NewAggregator(), search, "a.pdf")

	out := s.executeToolCall(context.Background(), openai.ToolCall{
		Function: openai.FunctionCall{
			Name:      searchToolName,
			Arguments: `{"document_name":"a.pdf","query":"term"}`,
		},
	})
	assert.Contains(t, out, "store unavailable")
}

func TestSessionToolResultFormat(t *testing.T) {
	s := NewSession(nil, "m", metering.NewAggregator(), noopSearch, "a.pdf")

	out := s.executeToolCall(context.Background(), openai.ToolCall{
		Function: openai.FunctionCall{
			Name:      searchToolName,
			Arguments: `{"document_name":"a.pdf","query":"term"}`,
		},
	})
	assert.JSONEq(t, `[{"text":"excerpt","id":"par_1"}]`, out)
}

func TestLastAssistantContent(t *testing.T) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleAssistant, Content: "first"},
		{Role: openai.ChatMessageRoleTool, Content: "tool output"},
		{Role: openai.ChatMessageRoleAssistant, Content: "final"},
	}
	assert.Equal(t, "final", lastAssistantContent(messages))
	assert.Equal(t, "", lastAssistantContent(nil))
}
