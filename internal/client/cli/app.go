// Package cli implements vaultctl, the operator tool for the vault: it
// generates master keys, mints access tokens, exports the configured store
// and syncs the local-file store from the newest export.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/memvault/internal/config"
	"github.com/dmitrijs2005/memvault/internal/logging"
	"github.com/dmitrijs2005/memvault/internal/server"
	"github.com/dmitrijs2005/memvault/internal/store"
)

var ErrUsage = errors.New("usage")

const usage = `usage: vaultctl <command> [flags]

commands:
  genkey [-passphrase] [-salt <base64>]   print a new base64 master key
  token <userId>                          mint an access token for userId
  export                                  snapshot the configured store to the export sinks
  sync                                    replace the local store with the newest export
`

type App struct {
	config    *config.Config
	out       io.Writer
	logger    logging.Logger
	openStore func(context.Context, *config.Config) (store.Store, error)
}

// NewApp returns an App writing command output to out and logs to logs.
func NewApp(c *config.Config, out, logs io.Writer) (*App, error) {
	logger, err := logging.New(c.LogBackend, c.LogLevel, logs)
	if err != nil {
		return nil, err
	}
	return &App{config: c, out: out, logger: logger, openStore: server.OpenStore}, nil
}

// Run executes the command named by args[0].
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(a.out, usage)
		return ErrUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "genkey":
		return a.genKey(rest)
	case "token":
		return a.token(rest)
	case "export":
		return a.export(ctx)
	case "sync":
		return a.sync(ctx)
	case "help", "-h", "--help":
		fmt.Fprint(a.out, usage)
		return nil
	default:
		fmt.Fprint(a.out, usage)
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}
}
