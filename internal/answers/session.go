package answers

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rageval/harness/internal/llm"
	"github.com/rageval/harness/internal/metering"
	"github.com/rageval/harness/internal/vector"
)

const (
	// maxToolIterations bounds the retrieval loop. Once reached, tools are
	// withdrawn and the model is told to answer with what it has.
	maxToolIterations = 5

	searchToolName = "search_in_doc"
)

// SearchFunc retrieves paragraph excerpts for a query. It is already scoped
// to the file the session is answering about.
type SearchFunc func(ctx context.Context, query string) ([]vector.SearchResult, error)

// Session runs one question through the bounded tool-calling loop against a
// single document.
type Session struct {
	chat     llm.Chat
	model    string
	agg      *metering.Aggregator
	search   SearchFunc
	fileName string
}

func NewSession(chat llm.Chat, model string, agg *metering.Aggregator, search SearchFunc, fileName string) *Session {
	return &Session{
		chat:     chat,
		model:    model,
		agg:      agg,
		search:   search,
		fileName: fileName,
	}
}

// SessionResult is the terminal state of one session. Forced means the
// iteration bound fired and the final answer was demanded without tools.
type SessionResult struct {
	Answer     string
	Transcript []openai.ChatCompletionMessage
	Iterations int
	Forced     bool
}

// Answer drives the loop to a terminal assistant message. The transcript
// grows monotonically; every model turn is metered.
func (s *Session) Answer(ctx context.Context, question string) (*SessionResult, error) {
	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: fmt.Sprintf("%s\n----\nDOC NAME: %s", systemPrompt, s.fileName),
		},
		{Role: openai.ChatMessageRoleUser, Content: question},
	}

	tools := []openai.Tool{searchTool()}
	iters := 0
	forced := false

	for {
		if iters == maxToolIterations {
			tools = nil
			forced = true
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Give your final answer\n----\n%s", question),
			})
		}

		resp, err := s.chat.CompleteWithTools(ctx, llm.ChatRequest{
			Model:    s.model,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return nil, err
		}

		s.agg.Add(metering.StageAnswers, s.model, metering.Delta{
			Requests:     1,
			MessagesSent: len(messages),
			TokensIn:     resp.Usage.PromptTokens,
			TokensOut:    resp.Usage.CompletionTokens,
		})

		messages = append(messages, resp.Message)

		// Once tools are withdrawn the reply is terminal. A model that still
		// emits tool calls gets them ignored, so the transcript always ends
		// on an assistant turn.
		if forced || len(resp.Message.ToolCalls) == 0 {
			break
		}

		messages = append(messages, s.executeToolCalls(ctx, resp.Message.ToolCalls)...)
		iters++
	}

	return &SessionResult{
		Answer:     lastAssistantContent(messages),
		Transcript: messages,
		Iterations: iters,
		Forced:     forced,
	}, nil
}

type searchArgs struct {
	DocumentName string `json:"document_name"`
	Query        string `json:"query"`
}

type searchExcerpt struct {
	Text string `json:"text"`
	ID   string `json:"id"`
}

// executeToolCalls turns every tool call into a tool-result message. Failures
// become error text the model sees on the next turn, never a session abort.
func (s *Session) executeToolCalls(ctx context.Context, calls []openai.ToolCall) []openai.ChatCompletionMessage {
	results := make([]openai.ChatCompletionMessage, 0, len(calls))
	for _, call := range calls {
		results = append(results, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    s.executeToolCall(ctx, call),
			ToolCallID: call.ID,
		})
	}
	return results
}

func (s *Session) executeToolCall(ctx context.Context, call openai.ToolCall) string {
	if call.Function.Name != searchToolName {
		return fmt.Sprintf("Error: unknown tool %q", call.Function.Name)
	}

	var args searchArgs
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return fmt.Sprintf("Error validating tool %s: malformed arguments: %v", searchToolName, err)
	}
	if args.Query == "" {
		return fmt.Sprintf("Error validating tool %s: non-empty 'query' is required.", searchToolName)
	}

	found, err := s.search(ctx, args.Query)
	if err != nil {
		return fmt.Sprintf("Error while executing tool %s: %v", searchToolName, err)
	}

	excerpts := make([]searchExcerpt, len(found))
	for i, r := range found {
		excerpts[i] = searchExcerpt{Text: r.Text, ID: r.ParagraphID}
	}

	data, err := json.Marshal(excerpts)
	if err != nil {
		return fmt.Sprintf("Error while executing tool %s: %v", searchToolName, err)
	}
	return string(data)
}

func searchTool() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: openai.FunctionDefinition{
			Name:        searchToolName,
			Description: "Searches for relevant information within a specified document.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"document_name": map[string]any{
						"type":        "string",
						"description": "The name of the document to search within.",
					},
					"query": map[string]any{
						"type":        "string",
						"description": "The search query to find relevant information.",
					},
				},
				"required": []string{"document_name", "query"},
			},
		},
	}
}

func lastAssistantContent(messages []openai.ChatCompletionMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == openai.ChatMessageRoleAssistant {
			return messages[i].Content
		}
	}
	return ""
}
