// Package deepseek implements provider.Adapter for DeepSeek and other
// OpenAI-compatible chat endpoints using the go-openai client.
package deepseek

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/casualjim/hoot/cancel"
	"github.com/casualjim/hoot/pkg/slogx"
	"github.com/casualjim/hoot/provider"
	goopenai "github.com/sashabaranov/go-openai"
)

const (
	// Name is the provider name the adapter registers under.
	Name = "deepseek"
	// DefaultBaseURL is the DeepSeek OpenAI-compatible endpoint.
	DefaultBaseURL = "https://api.deepseek.com/v1"
)

// Matcher accepts DeepSeek model names.
var Matcher = provider.Prefix("deepseek-")

// Adapter streams chat completions from an OpenAI-compatible endpoint.
type Adapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New creates an adapter. An empty baseURL selects DefaultBaseURL and a nil
// httpClient selects http.DefaultClient.
func New(apiKey, baseURL string, httpClient *http.Client) *Adapter {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Adapter{apiKey: apiKey, baseURL: baseURL, httpClient: httpClient}
}

func (a *Adapter) client(key string) *goopenai.Client {
	config := goopenai.DefaultConfig(key)
	config.BaseURL = a.baseURL
	config.HTTPClient = a.httpClient
	return goopenai.NewClientWithConfig(config)
}

func (a *Adapter) buildRequest(req provider.Request) (goopenai.ChatCompletionRequest, string, error) {
	if !Matcher(req.Model) {
		return goopenai.ChatCompletionRequest{}, "", provider.NewError(Name, provider.CodeUnknownModel,
			fmt.Sprintf("model %q is not a deepseek model", req.Model), 0, false, nil)
	}
	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		key = a.apiKey
	}
	if key == "" {
		return goopenai.ChatCompletionRequest{}, "", provider.NewError(Name, provider.CodeAuthFailed,
			"deepseek.apiKey is not configured", 0, false, nil)
	}
	if len(req.Messages) == 0 {
		return goopenai.ChatCompletionRequest{}, "", provider.NewError(Name, provider.CodeInvalidRequest,
			"request has no messages", 0, false, nil)
	}

	msgs := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := goopenai.ChatMessageRoleUser
		switch m.Role {
		case provider.RoleSystem:
			role = goopenai.ChatMessageRoleSystem
		case provider.RoleAssistant:
			role = goopenai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	return goopenai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   true,
		User:     req.SessionID,
	}, key, nil
}

func (a *Adapter) Stream(ctx context.Context, req provider.Request) *provider.Stream {
	return provider.NewStream(ctx, func(ctx context.Context, yield provider.Yield) error {
		chatReq, key, err := a.buildRequest(req)
		if err != nil {
			return err
		}
		if req.Reasoning != provider.ReasoningNone {
			// the compatible endpoint decides reasoning depth from the model name
			slog.Debug("ignoring reasoning level", slog.String("provider", Name), slog.String("reasoning", string(req.Reasoning)))
		}

		sig := cancel.OrNever(req.Signal)
		if err := cancel.Check(sig); err != nil {
			return err
		}
		ctx, stop := cancel.Context(ctx, sig)
		defer stop()

		strm, err := a.client(key).CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return a.failure(sig, err)
		}
		defer strm.Close()

		finish := provider.FinishStop
		for {
			resp, err := strm.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return a.failure(sig, err)
			}
			if err := cancel.Check(sig); err != nil {
				return err
			}

			for _, choice := range resp.Choices {
				if choice.Delta.Content != "" {
					if err := yield(provider.TextDelta{Text: choice.Delta.Content}); err != nil {
						return err
					}
				}
				for _, call := range choice.Delta.ToolCalls {
					ev := provider.ToolCall{ID: call.ID, Name: call.Function.Name, Arguments: call.Function.Arguments}
					if err := yield(ev); err != nil {
						return err
					}
				}
				if choice.FinishReason == goopenai.FinishReasonLength {
					finish = provider.FinishLength
				}
			}
		}

		if err := cancel.Check(sig); err != nil {
			return err
		}
		return yield(provider.Done{FinishReason: finish})
	})
}

func (a *Adapter) failure(sig cancel.Signal, err error) error {
	if cerr := cancel.Check(sig); cerr != nil {
		return cerr
	}
	perr := classify(err)
	slog.Debug("deepseek stream failed", slogx.Error(err), slog.String("code", string(perr.Code)))
	return perr
}

func classify(err error) *provider.Error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		pe := provider.Classify(Name, apiErr.HTTPStatusCode, err)
		if apiErr.Message != "" {
			pe.Message = apiErr.Message
		}
		return pe
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return provider.Classify(Name, reqErr.HTTPStatusCode, err)
	}
	return provider.Classify(Name, 0, err)
}
