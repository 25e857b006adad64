package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/casualjim/hoot/internal/console"
	"github.com/casualjim/hoot/session"
	"github.com/casualjim/hoot/session/sqlite"
	"github.com/casualjim/hoot/settings"
	"github.com/goccy/go-json"
)

func runHistory(ctx context.Context, cfg settings.Settings, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print JSON instead of rendered markdown")
	_ = fs.Parse(args)

	db, err := sqlite.New(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	store, err := session.NewStore(ctx, session.WithPersister(db))
	if err != nil {
		return err
	}

	if fs.NArg() == 0 {
		if *asJSON {
			return json.NewEncoder(os.Stdout).Encode(store.List())
		}
		console.Sessions(os.Stdout, store.List(), store.Active())
		return nil
	}

	sess, ok := store.Get(fs.Arg(0))
	if !ok {
		return fmt.Errorf("%w: %s", session.ErrNotFound, fs.Arg(0))
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	}
	return console.Transcript(os.Stdout, sess)
}
