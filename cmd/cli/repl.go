package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

var shellCommands = []string{
	"AUTH", "SELECT", "SET", "SETEX", "GET", "DEL", "EXISTS", "PING", "CALL", "HELP", "QUIT",
}

func historyPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".keyspace_history")
}

func repl(ctx context.Context, sh *shell, history string) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(input string) []string {
		var out []string
		for _, c := range shellCommands {
			if strings.HasPrefix(c, strings.ToUpper(input)) {
				out = append(out, c)
			}
		}
		return out
	})

	if history != "" {
		if f, err := os.Open(history); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
		defer func() {
			if f, err := os.Create(history); err == nil {
				_, _ = line.WriteHistory(f)
				f.Close()
			}
		}()
	}

	fmt.Fprintf(sh.out, "connected to %s, type HELP for commands\n", sh.addr)
	for {
		input, err := line.Prompt(sh.prompt())
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if err != nil {
			// EOF (Ctrl-D) ends the session.
			fmt.Fprintln(sh.out)
			return nil
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)

		args, err := splitArgs(input)
		if err != nil {
			fmt.Fprintln(sh.out, describe(err))
			continue
		}
		out, err := sh.run(ctx, args)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintln(sh.out, describe(err))
			continue
		}
		if out != "" {
			fmt.Fprintln(sh.out, out)
		}
	}
}
