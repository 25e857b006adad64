package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/casualjim/hoot/chat"
	"github.com/casualjim/hoot/client"
	"github.com/casualjim/hoot/host"
	"github.com/casualjim/hoot/internal/broker"
	"github.com/casualjim/hoot/internal/console"
	"github.com/casualjim/hoot/pkg/natsx"
	"github.com/casualjim/hoot/pkg/uuidx"
	"github.com/casualjim/hoot/protocol"
	"github.com/casualjim/hoot/provider"
	"github.com/casualjim/hoot/session"
	"github.com/casualjim/hoot/settings"
	"github.com/fatih/color"
)

const chatHelp = `commands:
  /new [title]        start a new session
  /sessions           list sessions
  /switch <id>        continue another session
  /model <name>       change the model
  /reasoning <level>  low, medium, high or none
  /attach <path>      attach a file to the next message
  /context <path>     share a file as editor context (again to stop sharing)
  /exit               quit
`

func runChat(ctx context.Context, cfg settings.Settings, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	model := fs.String("model", cfg.Model, "model name")
	reasoning := fs.String("reasoning", "", "reasoning level: low, medium or high")
	sessionID := fs.String("session", "", "session to continue")
	remote := fs.String("remote", "", "websocket url of a hoot server, e.g. ws://127.0.0.1:8787/ws")
	natsURL := fs.String("nats", "", "NATS server url of a hoot server")
	_ = fs.Parse(args)

	level := provider.ReasoningLevel(strings.ToLower(*reasoning))
	if !level.Valid() {
		return fmt.Errorf("unknown reasoning level %q", *reasoning)
	}

	renderer := console.NewRenderer(os.Stdout)
	view := client.NewView(renderer)
	files := &contextFiles{}

	r := &repl{
		renderer:  renderer,
		files:     files,
		model:     *model,
		reasoning: level,
		in:        os.Stdin,
		out:       os.Stdout,
	}

	switch {
	case *remote != "":
		ws, err := broker.DialWebSocket(ctx, *remote, nil)
		if err != nil {
			return err
		}
		defer ws.Close()
		if r.client, err = client.Connect(ctx, view, ws, ws); err != nil {
			return err
		}
	case *natsURL != "":
		nc, err := natsx.NewClient(*natsURL)
		if err != nil {
			return err
		}
		defer nc.Close()
		b := broker.NATS(nc)
		in := b.Topic(ctx, broker.OutboundTopic(natsPrefix, natsConnID))
		out := b.Topic(ctx, broker.InboundTopic(natsPrefix, natsConnID))
		if r.client, err = client.Connect(ctx, view, in, out); err != nil {
			return err
		}
	default:
		a, err := openApp(ctx, cfg, chat.WithEditorContext(files))
		if err != nil {
			return err
		}
		defer a.Close()
		r.store = a.store

		b := broker.Local()
		in := b.Topic(ctx, broker.InboundTopic(natsPrefix, "local"))
		out := b.Topic(ctx, broker.OutboundTopic(natsPrefix, "local"))
		conn := host.NewConn(ctx, a.service, out, host.WithID("local"))
		sub, err := conn.Listen(ctx, in)
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
		defer conn.Close()

		if r.client, err = client.Connect(ctx, view, out, in); err != nil {
			return err
		}
	}
	defer r.client.Close()

	r.sessionID = *sessionID
	if r.sessionID == "" && r.store != nil {
		r.sessionID = r.store.Active()
	}
	if r.sessionID == "" {
		r.sessionID = uuidx.NewID(uuidx.Session)
	}
	return r.run(ctx)
}

type repl struct {
	client   *client.Client
	renderer *console.Renderer
	store    *session.Store
	files    *contextFiles

	sessionID   string
	model       string
	reasoning   provider.ReasoningLevel
	attachments []protocol.Attachment

	in  io.Reader
	out io.Writer
}

var errExit = errors.New("exit")

func (r *repl) run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)

	fmt.Fprintf(r.out, "session %s, model %s. Type /help for commands.\n", color.CyanString(r.sessionID), color.CyanString(r.model))
	for {
		fmt.Fprintf(r.out, "%s: ", color.CyanString("User"))
		select {
		case <-ctx.Done():
			return nil
		case <-sigs:
			fmt.Fprintln(r.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out, "Exiting...")
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "/") {
				if err := r.command(line); err != nil {
					if errors.Is(err, errExit) {
						return nil
					}
					fmt.Fprintf(r.out, "%s %v\n", color.RedString("Error:"), err)
				}
				continue
			}
			if err := r.send(ctx, line, sigs); err != nil {
				fmt.Fprintf(r.out, "%s %v\n", color.RedString("Error:"), err)
			}
		}
	}
}

// send streams one reply. An interrupt while streaming cancels the reply
// instead of leaving the program.
func (r *repl) send(ctx context.Context, text string, sigs <-chan os.Signal) error {
	for len(r.renderer.Idle()) > 0 {
		<-r.renderer.Idle()
	}

	_, err := r.client.Send(ctx, protocol.Send{
		SessionID:      r.sessionID,
		Text:           text,
		Model:          r.model,
		Reasoning:      r.reasoning,
		Attachments:    r.attachments,
		IncludeContext: r.files.Len() > 0,
	})
	r.attachments = nil
	if err != nil {
		return err
	}

	for {
		select {
		case <-r.renderer.Idle():
			return nil
		case <-sigs:
			if _, err := r.client.Cancel(ctx, r.sessionID); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *repl) command(line string) error {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "exit", "quit":
		return errExit
	case "help":
		fmt.Fprint(r.out, chatHelp)
	case "model":
		if arg == "" {
			fmt.Fprintln(r.out, r.model)
			return nil
		}
		r.model = arg
	case "reasoning":
		level := provider.ReasoningLevel(strings.ToLower(arg))
		if arg == "none" {
			level = provider.ReasoningNone
		}
		if !level.Valid() {
			return fmt.Errorf("unknown reasoning level %q", arg)
		}
		r.reasoning = level
	case "attach":
		if arg == "" {
			return errors.New("usage: /attach <path>")
		}
		r.attachments = append(r.attachments, protocol.Attachment{Path: arg, Name: filepath.Base(arg)})
		fmt.Fprintf(r.out, "attached %s\n", filepath.Base(arg))
	case "context":
		if arg == "" {
			for _, p := range r.files.Paths() {
				fmt.Fprintln(r.out, p)
			}
			return nil
		}
		if r.store == nil {
			return errors.New("editor context is only available in local mode")
		}
		if r.files.Toggle(arg) {
			fmt.Fprintf(r.out, "sharing %s\n", arg)
		} else {
			fmt.Fprintf(r.out, "stopped sharing %s\n", arg)
		}
	case "new", "sessions", "switch":
		return r.sessionCommand(name, arg)
	default:
		return fmt.Errorf("unknown command /%s", name)
	}
	return nil
}

func (r *repl) sessionCommand(name, arg string) error {
	if r.store == nil {
		return errors.New("session commands are only available in local mode")
	}
	switch name {
	case "new":
		sess, err := r.store.Create(context.Background(), arg)
		if err != nil {
			return err
		}
		r.sessionID = sess.ID
		fmt.Fprintf(r.out, "session %s\n", color.CyanString(sess.ID))
	case "sessions":
		console.Sessions(r.out, r.store.List(), r.sessionID)
	case "switch":
		if err := r.store.SetActive(arg); err != nil {
			return err
		}
		r.sessionID = arg
	}
	return nil
}

// contextFiles shares whole files as editor context.
type contextFiles struct {
	mu    sync.Mutex
	paths []string
}

var _ chat.EditorContext = (*contextFiles)(nil)

func (c *contextFiles) Toggle(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := slices.Index(c.paths, path); i >= 0 {
		c.paths = slices.Delete(c.paths, i, i+1)
		return false
	}
	c.paths = append(c.paths, path)
	return true
}

func (c *contextFiles) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.paths)
}

func (c *contextFiles) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.paths)
}

func (c *contextFiles) Snippets(_ context.Context) ([]chat.Snippet, error) {
	var out []chat.Snippet
	for _, p := range c.Paths() {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read context %s: %w", p, err)
		}
		content := string(data)
		out = append(out, chat.Snippet{
			Source:    "file",
			Path:      p,
			StartLine: 1,
			EndLine:   strings.Count(content, "\n") + 1,
			Content:   content,
		})
	}
	return out, nil
}
