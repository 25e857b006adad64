package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/casualjim/hoot/cancel"
	"github.com/casualjim/hoot/pkg/slogx"
	"github.com/casualjim/hoot/provider"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Name is the provider name the adapter registers under.
const Name = "openai"

// ModelPrefixes lists the naming conventions of OpenAI chat models.
var ModelPrefixes = []string{"gpt-", "o1", "o3", "o4", "chatgpt-"}

// Matcher accepts OpenAI model names.
var Matcher = provider.Prefix(ModelPrefixes...)

// Adapter streams chat completions from the OpenAI API.
type Adapter struct {
	client openai.Client
	apiKey string
}

// New creates an adapter. apiKey is used when a request carries no key of its own.
func New(apiKey string, options ...option.RequestOption) *Adapter {
	options = append(options, option.WithMaxRetries(0))
	return &Adapter{
		client: openai.NewClient(options...),
		apiKey: apiKey,
	}
}

func (a *Adapter) buildRequest(req provider.Request) (openai.ChatCompletionNewParams, []option.RequestOption, error) {
	if !Matcher(req.Model) {
		return openai.ChatCompletionNewParams{}, nil, provider.NewError(Name, provider.CodeUnknownModel,
			fmt.Sprintf("model %q is not an openai model", req.Model), 0, false, nil)
	}
	if !req.Reasoning.Valid() {
		return openai.ChatCompletionNewParams{}, nil, provider.NewError(Name, provider.CodeInvalidRequest,
			fmt.Sprintf("unknown reasoning level %q", req.Reasoning), 0, false, nil)
	}

	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		key = a.apiKey
	}
	if key == "" {
		return openai.ChatCompletionNewParams{}, nil, provider.NewError(Name, provider.CodeAuthFailed,
			"openai.apiKey is not configured", 0, false, nil)
	}
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, nil, provider.NewError(Name, provider.CodeInvalidRequest,
			"request has no messages", 0, false, nil)
	}

	params := openai.ChatCompletionNewParams{
		Messages: messagesToOpenAI(req.Messages),
		Model:    shared.ChatModel(req.Model),
		N:        openai.Int(1),
	}
	if req.Reasoning != provider.ReasoningNone {
		params.ReasoningEffort = shared.ReasoningEffort(req.Reasoning)
	}
	if req.SessionID != "" {
		params.User = openai.String(req.SessionID)
	}

	return params, []option.RequestOption{option.WithAPIKey(key)}, nil
}

func messagesToOpenAI(msgs []provider.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case provider.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))
		case provider.RoleAssistant:
			result = append(result, openai.AssistantMessage(msg.Content))
		default:
			result = append(result, openai.UserMessage(msg.Content))
		}
	}
	return result
}

func (a *Adapter) Stream(ctx context.Context, req provider.Request) *provider.Stream {
	return provider.NewStream(ctx, func(ctx context.Context, yield provider.Yield) error {
		params, reqOpts, err := a.buildRequest(req)
		if err != nil {
			return err
		}

		sig := cancel.OrNever(req.Signal)
		if err := cancel.Check(sig); err != nil {
			return err
		}
		ctx, stop := cancel.Context(ctx, sig)
		defer stop()

		return a.runStream(ctx, sig, params, reqOpts, yield)
	})
}

func (a *Adapter) runStream(ctx context.Context, sig cancel.Signal, params openai.ChatCompletionNewParams, reqOpts []option.RequestOption, yield provider.Yield) error {
	strm := a.client.Chat.Completions.NewStreaming(ctx, params, reqOpts...)
	defer strm.Close()

	finish := provider.FinishStop
	for strm.Next() {
		if err := cancel.Check(sig); err != nil {
			return err
		}

		chunk := strm.Current()
		for _, choice := range chunk.Choices {
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
			if choice.FinishReason != "" {
				finish = normalizeFinishReason(choice.FinishReason)
			}
		}
	}

	if err := strm.Err(); err != nil {
		if cerr := cancel.Check(sig); cerr != nil {
			return cerr
		}
		perr := classify(err)
		slog.Debug("openai stream failed", slogx.Error(err), slog.String("code", string(perr.Code)))
		return perr
	}
	if err := cancel.Check(sig); err != nil {
		return err
	}
	return yield(provider.Done{FinishReason: finish})
}

func normalizeFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "length":
		return provider.FinishLength
	default:
		return provider.FinishStop
	}
}

func classify(err error) *provider.Error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = err.Error()
		}
		pe := provider.Classify(Name, apiErr.StatusCode, err)
		pe.Message = msg
		return pe
	}
	return provider.Classify(Name, 0, err)
}
