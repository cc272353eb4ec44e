package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/rhuss/keyspace/pkg/protocol"
	"github.com/rhuss/keyspace/pkg/value"
)

// errQuit ends the shell.
var errQuit = errors.New("quit")

var (
	okColor   = color.New(color.FgGreen).SprintFunc()
	nilColor  = color.New(color.FgYellow).SprintFunc()
	errColor  = color.New(color.FgRed).SprintFunc()
	typeColor = color.New(color.FgCyan).SprintFunc()
)

const helpText = `Commands:
  AUTH <password>              authenticate the session
  SELECT <namespace>           switch namespace
  SET <key> <literal> [ttl]    store a value, ttl in seconds (0 = forever)
  SETEX <key> <ttl> <literal>  same as SET with the ttl first
  GET <key>                    print a value and its type
  DEL <key>                    remove a key
  EXISTS <key>                 check for a live key
  PING                         check the connection
  CALL <name> [args...]        run an extension command
  HELP                         show this text
  QUIT                         leave the shell

Literals: "text", 42, true, none, [1, 2], (1, "a"), {"k": 1}.
Unquoted text that is not a literal is stored as a string.`

// shell runs commands over one protocol connection and reconnects when the
// connection breaks.
type shell struct {
	addr      string
	password  string
	namespace string
	timeout   time.Duration
	out       io.Writer

	client *protocol.Client
}

func (s *shell) connect(ctx context.Context) error {
	client, err := protocol.Dial(ctx, s.addr)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", s.addr, err)
	}
	if s.password != "" {
		if err := client.Auth(ctx, s.password); err != nil {
			client.Close()
			return err
		}
	}
	if s.namespace != "" {
		if err := client.Select(ctx, s.namespace); err != nil {
			client.Close()
			return err
		}
	}
	s.client = client
	return nil
}

func (s *shell) close() {
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
}

func (s *shell) prompt() string {
	if s.namespace == "" {
		return "keyspace> "
	}
	return fmt.Sprintf("keyspace[%s]> ", s.namespace)
}

// run executes one command and returns the text to print.
func (s *shell) run(parent context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	cmd := strings.ToUpper(args[0])
	switch cmd {
	case "HELP", "?":
		return helpText, nil
	case "QUIT", "EXIT":
		return "", errQuit
	}

	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	if s.client == nil || s.client.Broken() {
		s.close()
		if err := s.connect(ctx); err != nil {
			return "", err
		}
	}
	return s.exec(ctx, cmd, args[1:])
}

func (s *shell) exec(ctx context.Context, cmd string, args []string) (string, error) {
	c := s.client
	switch cmd {
	case "AUTH":
		if err := arity(cmd, args, 1); err != nil {
			return "", err
		}
		if err := c.Auth(ctx, args[0]); err != nil {
			return "", err
		}
		s.password = args[0]
		return okColor("OK"), nil

	case "SELECT":
		if err := arity(cmd, args, 1); err != nil {
			return "", err
		}
		if err := c.Select(ctx, args[0]); err != nil {
			return "", err
		}
		s.namespace = args[0]
		return okColor("OK"), nil

	case "SET":
		if len(args) != 2 && len(args) != 3 {
			return "", fmt.Errorf("SET takes <key> <literal> [ttl]")
		}
		var ttl uint64
		if len(args) == 3 {
			var err error
			if ttl, err = parseTTL(args[2]); err != nil {
				return "", err
			}
		}
		if err := c.SetEx(ctx, args[0], value.ParseLiteral(args[1]), ttl); err != nil {
			return "", err
		}
		return okColor("OK"), nil

	case "SETEX":
		if err := arity(cmd, args, 3); err != nil {
			return "", err
		}
		ttl, err := parseTTL(args[1])
		if err != nil {
			return "", err
		}
		if err := c.SetEx(ctx, args[0], value.ParseLiteral(args[2]), ttl); err != nil {
			return "", err
		}
		return okColor("OK"), nil

	case "GET":
		if err := arity(cmd, args, 1); err != nil {
			return "", err
		}
		v, ok, err := c.Get(ctx, args[0])
		if err != nil {
			return "", err
		}
		if !ok {
			return nilColor("(nil)"), nil
		}
		return fmt.Sprintf("%s %s", typeColor("("+v.Kind().String()+")"), v.String()), nil

	case "DEL":
		if err := arity(cmd, args, 1); err != nil {
			return "", err
		}
		removed, err := c.Del(ctx, args[0])
		if err != nil {
			return "", err
		}
		return boolText(removed), nil

	case "EXISTS":
		if err := arity(cmd, args, 1); err != nil {
			return "", err
		}
		found, err := c.Exists(ctx, args[0])
		if err != nil {
			return "", err
		}
		return boolText(found), nil

	case "PING":
		if err := c.Ping(ctx); err != nil {
			return "", err
		}
		return okColor("PONG"), nil

	case "CALL":
		if len(args) == 0 {
			return "", fmt.Errorf("CALL takes <name> [args...]")
		}
		return c.Call(ctx, args[0], args[1:]...)
	}
	return "", fmt.Errorf("unknown command %q, try HELP", cmd)
}

func arity(cmd string, args []string, want int) error {
	if len(args) != want {
		return fmt.Errorf("%s takes %d argument(s), got %d", cmd, want, len(args))
	}
	return nil
}

func parseTTL(s string) (uint64, error) {
	ttl, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ttl must be a non-negative integer, got %q", s)
	}
	return ttl, nil
}

func boolText(b bool) string {
	if b {
		return okColor("1")
	}
	return nilColor("0")
}

// splitArgs splits a shell line into words. Single quotes keep their
// content verbatim; double quotes allow \" and \\ escapes.
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inWord  bool
		quote   byte
		escaped bool
	)
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case escaped:
			cur.WriteByte(ch)
			escaped = false
		case quote == '"' && ch == '\\':
			escaped = true
		case quote != 0 && ch == quote:
			quote = 0
		case quote != 0:
			cur.WriteByte(ch)
		case ch == '\'' || ch == '"':
			quote = ch
			inWord = true
		case ch == ' ' || ch == '\t':
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteByte(ch)
			inWord = true
		}
	}
	if quote != 0 || escaped {
		return nil, fmt.Errorf("unterminated quote")
	}
	if inWord {
		args = append(args, cur.String())
	}
	return args, nil
}

// describe renders an error for the shell.
func describe(err error) string {
	return errColor("(error) " + err.Error())
}
