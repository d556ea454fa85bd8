// Command katta is the cluster administrator's CLI: it declares indexes,
// inspects cluster and placement state, and issues ad hoc queries against
// a running cluster. It talks to the metadata store directly rather than
// through the Master or a Worker, matching spec.md's data model where the
// store itself (not any one process) is authoritative.
//
// Usage:
//
//	katta [-config configs/development.yaml] <command> [args...]
//
// Commands:
//
//	addIndex <name> <path> <analyzer> [replication]
//	removeIndex <name>
//	redeployIndex <name>
//	listIndexes
//	listNodes
//	listErrors <name>
//	showStructure
//	search <indexNames> "<query>" [count]
//
// Exit codes: 0 success, 1 usage error, 2 operation failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/katta-cluster/katta/internal/store"
	"github.com/katta-cluster/katta/pkg/config"
	apperrors "github.com/katta-cluster/katta/pkg/errors"
	"github.com/katta-cluster/katta/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usage())
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]

	if cmd == "startMaster" || cmd == "startNode" {
		fmt.Fprintf(os.Stderr, "%s: run the dedicated cmd/master or cmd/node binary instead\n", cmd)
		os.Exit(1)
	}

	adapter, err := store.New(ctx, cfg.Store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to metadata store: %v\n", err)
		os.Exit(2)
	}
	defer adapter.Close()

	runner, ok := commands[cmd]
	if !ok {
		fmt.Fprintln(os.Stderr, usage())
		os.Exit(1)
	}

	env := &cliEnv{ctx: ctx, cfg: cfg, adapter: adapter, out: os.Stdout}
	if err := runner(env, rest); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(apperrors.CLIExitCode(err))
	}
}

func usage() string {
	return `usage: katta [-config file] <command> [args...]

commands:
  addIndex <name> <path> <analyzer> [replication]
  removeIndex <name>
  redeployIndex <name>
  listIndexes
  listNodes
  listErrors <name>
  showStructure
  search <indexNames> "<query>" [count]`
}
