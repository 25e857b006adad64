package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/casualjim/hoot/cancel"
	"github.com/casualjim/hoot/executor"
	"github.com/casualjim/hoot/pkg/slogx"
	"github.com/casualjim/hoot/provider"
	"github.com/casualjim/hoot/session"
	"github.com/fogfish/opts"
)

const (
	// DefaultHardTimeout bounds one attempt of a chat turn.
	DefaultHardTimeout = 30 * time.Second
	// DefaultIdleTimeout aborts an attempt that stopped producing text.
	DefaultIdleTimeout = 20 * time.Second
	DefaultMaxRetries  = 1
	DefaultRetryDelay  = 200 * time.Millisecond
)

// Provider names the chat service routes to.
const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderMock     = "mock"
)

// Credential keys looked up through Credentials.
const (
	OpenAIKey   = "openai.apiKey"
	DeepSeekKey = "deepseek.apiKey"
)

// Policy selects how a model is mapped to a provider.
type Policy string

const (
	PolicyAuto   Policy = "auto"
	PolicyOpenAI Policy = "openai"
	PolicyMock   Policy = "mock"
)

// ParsePolicy parses a policy name; the empty string means auto.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PolicyAuto:
		return PolicyAuto, nil
	case PolicyOpenAI, PolicyMock:
		return p, nil
	}
	return "", fmt.Errorf("unknown provider policy %q", s)
}

// Request is one user turn.
type Request struct {
	RequestID      string
	SessionID      string
	Text           string
	Model          string
	Reasoning      provider.ReasoningLevel
	Attachments    []Attachment
	IncludeContext bool
}

// Transcript is the part of the session store the service writes to.
type Transcript interface {
	Get(id string) (session.Session, bool)
	AppendUserMessage(ctx context.Context, sessionID, text string) error
	AppendAssistantDelta(ctx context.Context, sessionID, delta string) error
	AppendAssistantError(ctx context.Context, sessionID, text string) error
	SetFinishReason(ctx context.Context, sessionID string, reason provider.FinishReason) (bool, error)
}

var _ Transcript = (*session.Store)(nil)

// Service turns a user message into a persisted, streamed assistant reply.
type Service struct {
	transcript Transcript
	registry   *provider.Registry

	executor    *executor.Executor
	editor      EditorContext
	attachments Attachments
	credentials Credentials
	policy      Policy
	limits      provider.Limits
	logger      *slog.Logger
}

var (
	WithExecutor      = opts.ForName[Service, *executor.Executor]("executor")
	WithEditorContext = opts.ForName[Service, EditorContext]("editor")
	WithAttachments   = opts.ForName[Service, Attachments]("attachments")
	WithCredentials   = opts.ForName[Service, Credentials]("credentials")
	WithPolicy        = opts.ForName[Service, Policy]("policy")
	// WithLimits replaces the timeout and retry budget of every turn.
	WithLimits = opts.ForName[Service, provider.Limits]("limits")
	WithLogger = opts.ForName[Service, *slog.Logger]("logger")
)

// WithIdleTimeout sets the idle timeout while keeping the other limits.
func WithIdleTimeout(d time.Duration) opts.Option[Service] {
	return opts.Type[Service](func(s *Service) error {
		s.limits.IdleTimeout = d
		return nil
	})
}

// DefaultLimits is the budget applied to every chat turn.
func DefaultLimits() provider.Limits {
	return provider.Limits{
		IdleTimeout: DefaultIdleTimeout,
		HardTimeout: DefaultHardTimeout,
		MaxRetries:  DefaultMaxRetries,
		RetryDelay:  DefaultRetryDelay,
	}
}

// NewService creates a chat service.
func NewService(transcript Transcript, registry *provider.Registry, options ...opts.Option[Service]) *Service {
	s := Service{
		transcript: transcript,
		registry:   registry,
		policy:     PolicyAuto,
		limits:     DefaultLimits(),
	}
	if err := opts.Apply(&s, options); err != nil {
		panic(fmt.Sprintf("chat: invalid options: %v", err))
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slogx.LoggerName("chat"))
	if s.executor == nil {
		s.executor = executor.New(executor.WithLogger(s.logger))
	}
	if s.credentials == nil {
		s.credentials = StaticCredentials{}
	}
	return &s
}

// StreamChat persists the user message, streams the reply and persists every
// event before forwarding it. The returned stream fails with the abort error
// untouched when sig aborts, with a formatted error for provider failures, and
// with the original error otherwise.
func (s *Service) StreamChat(ctx context.Context, req Request, sig cancel.Signal) *provider.Stream {
	sig = cancel.OrNever(sig)
	return provider.NewStream(ctx, func(ctx context.Context, yield provider.Yield) error {
		logger := s.logger.With(
			slogx.SessionID(req.SessionID),
			slogx.RequestID(req.RequestID),
			slogx.Model(req.Model),
		)
		if err := s.transcript.AppendUserMessage(ctx, req.SessionID, req.Text); err != nil {
			return fmt.Errorf("persist user message: %w", err)
		}

		err := s.run(ctx, req, sig, yield, logger)
		if err == nil {
			return nil
		}
		return s.fail(ctx, req.SessionID, err, logger)
	})
}

func (s *Service) run(ctx context.Context, req Request, sig cancel.Signal, yield provider.Yield, logger *slog.Logger) error {
	prompt, err := s.compose(ctx, req, logger)
	if err != nil {
		return err
	}

	name, apiKey, err := s.resolveProvider(req.Model)
	if err != nil {
		return err
	}
	adapter, err := s.registry.Resolve(name, req.Model)
	if err != nil {
		return err
	}

	sess, _ := s.transcript.Get(req.SessionID)
	limits := s.limits
	preq := provider.Request{
		Provider:  name,
		Model:     req.Model,
		Reasoning: req.Reasoning,
		SessionID: req.SessionID,
		Messages:  History(sess.Messages, req.Text, prompt),
		APIKey:    apiKey,
		Limits:    &limits,
		Signal:    sig,
	}
	logger.DebugContext(ctx, "streaming chat", slogx.Provider(name), slog.Int("messages", len(preq.Messages)))

	stream := s.executor.Stream(ctx, adapter, preq)
	defer stream.Close()

	for stream.Next() {
		ev := stream.Current()
		if err := s.persist(ctx, req.SessionID, ev); err != nil {
			return err
		}
		if err := yield(ev); err != nil {
			return err
		}
	}
	return stream.Err()
}

func (s *Service) persist(ctx context.Context, sessionID string, ev provider.StreamEvent) error {
	switch ev := ev.(type) {
	case provider.TextDelta:
		if ev.Text == "" {
			return nil
		}
		return s.transcript.AppendAssistantDelta(ctx, sessionID, ev.Text)
	case provider.Done:
		reason := ev.FinishReason
		if reason == "" {
			reason = provider.FinishStop
		}
		_, err := s.transcript.SetFinishReason(ctx, sessionID, reason)
		return err
	case provider.ErrorEvent:
		if _, err := s.transcript.SetFinishReason(ctx, sessionID, provider.FinishError); err != nil {
			return err
		}
		return s.transcript.AppendAssistantError(ctx, sessionID, ev.Message)
	}
	return nil
}

func (s *Service) fail(ctx context.Context, sessionID string, err error, logger *slog.Logger) error {
	// the consumer may have gone away, the transcript still has to be written
	ctx = context.WithoutCancel(ctx)

	if cancel.IsAbort(err) || errors.Is(err, provider.ErrStreamClosed) || errors.Is(err, context.Canceled) {
		if _, perr := s.transcript.SetFinishReason(ctx, sessionID, provider.FinishCancelled); perr != nil {
			logger.ErrorContext(ctx, "failed to mark message cancelled", slogx.Error(perr))
		}
		return err
	}

	msg, out := err.Error(), err
	if pe, ok := provider.AsError(err); ok {
		msg = FormatProviderError(pe)
		out = errors.New(msg)
	}
	logger.WarnContext(ctx, "chat turn failed", slogx.Error(err))

	if _, perr := s.transcript.SetFinishReason(ctx, sessionID, provider.FinishError); perr != nil {
		logger.ErrorContext(ctx, "failed to close partial message", slogx.Error(perr))
	}
	if perr := s.transcript.AppendAssistantError(ctx, sessionID, msg); perr != nil {
		logger.ErrorContext(ctx, "failed to persist error message", slogx.Error(perr))
	}
	return out
}

func (s *Service) compose(ctx context.Context, req Request, logger *slog.Logger) (string, error) {
	p := Prompt{Text: req.Text}

	if req.IncludeContext && s.editor != nil {
		snippets, err := s.editor.Snippets(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			logger.WarnContext(ctx, "editor context unavailable", slogx.Error(err))
		}
		p.Context = snippets
	}

	if len(req.Attachments) > 0 {
		reader := s.attachments
		if reader == nil {
			reader = FileAttachments{}
		}
		for _, a := range req.Attachments {
			content, reason, err := reader.Read(ctx, a)
			switch {
			case err != nil && ctx.Err() != nil:
				return "", ctx.Err()
			case err != nil:
				p.Skipped = append(p.Skipped, SkippedAttachment{Attachment: a, Reason: err.Error()})
			case reason != "":
				p.Skipped = append(p.Skipped, SkippedAttachment{Attachment: a, Reason: reason})
			default:
				p.Attachments = append(p.Attachments, AttachmentContent{Attachment: a, Content: content})
			}
		}
	}
	return p.Compose(), nil
}

// resolveProvider applies the routing policy and returns the provider name
// with the credential to use for it.
func (s *Service) resolveProvider(model string) (string, string, error) {
	isMock := strings.HasPrefix(model, "mock")

	switch s.policy {
	case PolicyOpenAI:
		key, _ := s.credentials.Lookup(OpenAIKey)
		return ProviderOpenAI, key, nil
	case PolicyMock:
		if !isMock {
			return "", "", provider.NewError(ProviderMock, provider.CodeUnknownModel,
				fmt.Sprintf("model %q is not served by the mock provider", model), 0, false, nil)
		}
		return ProviderMock, "", nil
	}

	if isMock {
		return ProviderMock, "", nil
	}
	if strings.HasPrefix(model, "deepseek-") {
		if key, ok := s.credentials.Lookup(DeepSeekKey); ok {
			return ProviderDeepSeek, key, nil
		}
	}
	if key, ok := s.credentials.Lookup(OpenAIKey); ok {
		return ProviderOpenAI, key, nil
	}
	return "", "", provider.NewError(ProviderOpenAI, provider.CodeUnknownModel,
		fmt.Sprintf("model %q requires %s to be configured", model, OpenAIKey), 0, false, nil)
}
