// Command hoot runs the streaming chat host and a terminal client.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/casualjim/hoot/pkg/slogx"
	"github.com/casualjim/hoot/settings"
	_ "github.com/joho/godotenv/autoload"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
)

const usage = `usage: hoot [-config path] <command> [flags]

commands:
  serve     run the websocket host, the session API and the optional NATS endpoint
  chat      chat in the terminal; Ctrl-C cancels the running reply
  history   list sessions or print a transcript

flags:
`

type command func(ctx context.Context, cfg settings.Settings, args []string) error

var commands = map[string]command{
	"serve":   runServe,
	"chat":    runChat,
	"history": runHistory,
}

func setupLogging(level slog.Level) {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	log := zerolog.New(output).With().Timestamp().Logger()
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: level}),
	))
}

func main() {
	fs := flag.NewFlagSet("hoot", flag.ExitOnError)
	configPath := fs.String("config", settings.DefaultPath(), "settings file")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	cfg, err := settings.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	setupLogging(cfg.Level())

	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		os.Exit(2)
	}
	run, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		fs.Usage()
		os.Exit(2)
	}
	if err := run(context.Background(), cfg, args[1:]); err != nil {
		slog.Error("hoot failed", slog.String("command", args[0]), slogx.Error(err))
		os.Exit(1)
	}
}
