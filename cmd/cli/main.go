// Command cli is an interactive client for the keyspace protocol server.
//
//	keyspace-cli [--addr host:port] [--password pw] [--namespace ns] [command args...]
//
// Without a command it starts a shell with history.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
)

var version = "dev"

var (
	addrFlag = &cli.StringFlag{
		Name:    "addr",
		Aliases: []string{"a"},
		Value:   "127.0.0.1:6380",
		Usage:   "protocol server address",
		EnvVars: []string{"KEYSPACE_ADDR"},
	}
	passwordFlag = &cli.StringFlag{
		Name:    "password",
		Aliases: []string{"p"},
		Usage:   "server password, sent with AUTH after connecting",
		EnvVars: []string{"KEYSPACE_PASSWORD"},
	}
	namespaceFlag = &cli.StringFlag{
		Name:    "namespace",
		Aliases: []string{"n"},
		Usage:   "namespace to SELECT after connecting",
	}
	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Value: 5 * time.Second,
		Usage: "per-command timeout",
	}
	historyFlag = &cli.StringFlag{
		Name:  "history",
		Usage: "shell history file (default ~/.keyspace_history)",
	}
)

func main() {
	app := &cli.App{
		Name:      "keyspace-cli",
		Usage:     "talk to a keyspace server",
		Version:   version,
		ArgsUsage: "[command args...]",
		Description: `Runs one command and prints its result, or starts an interactive
shell when no command is given. Type HELP in the shell for the command list.`,
		Flags:  []cli.Flag{addrFlag, passwordFlag, namespaceFlag, timeoutFlag, historyFlag},
		Action: action,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func action(c *cli.Context) error {
	sh := &shell{
		addr:      c.String(addrFlag.Name),
		password:  c.String(passwordFlag.Name),
		namespace: c.String(namespaceFlag.Name),
		timeout:   c.Duration(timeoutFlag.Name),
		out:       c.App.Writer,
	}
	defer sh.close()

	ctx, cancel := context.WithTimeout(c.Context, sh.timeout)
	err := sh.connect(ctx)
	cancel()
	if err != nil {
		return err
	}

	if c.NArg() > 0 {
		out, err := sh.run(c.Context, c.Args().Slice())
		if err != nil {
			return err
		}
		fmt.Fprintln(sh.out, out)
		return nil
	}
	return repl(c.Context, sh, historyPath(c.String(historyFlag.Name)))
}
