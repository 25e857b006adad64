// Package mock implements a deterministic, offline provider adapter. It
// echoes the last user message back token by token, which makes it useful
// for demos, end-to-end tests and exercising cancellation without network
// access.
package mock

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/casualjim/hoot/cancel"
	"github.com/casualjim/hoot/provider"
	"github.com/fogfish/opts"
)

// Name is the provider name the mock adapter registers under.
const Name = "mock"

const defaultInterval = 15 * time.Millisecond

var tokenPattern = regexp.MustCompile(`\s*\S+\s*`)

// Matcher accepts the mock naming convention.
var Matcher = provider.Prefix("mock")

// Adapter streams a canned response.
type Adapter struct {
	interval time.Duration
	response string
}

var (
	// WithInterval sets the pause between two tokens.
	WithInterval = opts.ForName[Adapter, time.Duration]("interval")
	// WithResponse replaces the echo with a fixed response.
	WithResponse = opts.ForName[Adapter, string]("response")
)

// New creates a mock adapter.
func New(options ...opts.Option[Adapter]) *Adapter {
	a := Adapter{interval: defaultInterval}
	if err := opts.Apply(&a, options); err != nil {
		panic(fmt.Sprintf("mock: invalid options: %v", err))
	}
	return &a
}

// Echo is the deterministic response for a model and prompt.
func Echo(model, prompt string) string {
	return fmt.Sprintf("[%s] You said: %s", model, strings.TrimSpace(prompt))
}

// Tokenize splits text into whitespace-preserving tokens whose concatenation
// is the original text.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(text, -1)
}

func (a *Adapter) Stream(ctx context.Context, req provider.Request) *provider.Stream {
	return provider.NewStream(ctx, func(ctx context.Context, yield provider.Yield) error {
		if !Matcher(req.Model) {
			return provider.NewError(Name, provider.CodeUnknownModel, fmt.Sprintf("model %q is not a mock model", req.Model), 0, false, nil)
		}

		response := a.response
		if response == "" {
			response = Echo(req.Model, req.LastUserMessage())
		}

		sig := cancel.OrNever(req.Signal)
		for i, token := range Tokenize(response) {
			if i > 0 {
				if err := cancel.Sleep(a.interval, sig); err != nil {
					return err
				}
			}
			if err := cancel.Check(sig); err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := yield(provider.TextDelta{Text: token}); err != nil {
				return err
			}
		}
		return yield(provider.Done{FinishReason: provider.FinishStop})
	})
}
