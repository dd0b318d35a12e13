package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"proofjudge/internal/cli/command"
	httpclient "proofjudge/internal/cli/http"
	"proofjudge/internal/evaluation/model"
	"proofjudge/internal/evaluation/workflow"
	appErr "proofjudge/pkg/errors"
	"proofjudge/pkg/utils/logger"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
	"go.uber.org/zap"
)

const prompt = "proofjudge> "

// errExit ends Run without an error.
var errExit = errors.New("exit")

// LineReader reads user input. *readline.Instance implements it.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
	Close() error
}

// Credentials holds the bearer token for the current process only.
type Credentials struct {
	mu    sync.RWMutex
	token string
}

func (c *Credentials) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Credentials) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Session holds REPL state.
type Session struct {
	client      *httpclient.Client
	env         *command.Env
	commands    map[string]command.Command
	credentials *Credentials
	prettyJSON  bool
	reader      LineReader

	outMu sync.Mutex
	out   io.Writer
}

func New(client *httpclient.Client, env *command.Env, commands map[string]command.Command, credentials *Credentials, reader LineReader, out io.Writer, prettyJSON bool) *Session {
	return &Session{
		client:      client,
		env:         env,
		commands:    commands,
		credentials: credentials,
		prettyJSON:  prettyJSON,
		reader:      reader,
		out:         out,
	}
}

// NewReadline builds a line editor with history and command completion.
func NewReadline(historyFile string, commands map[string]command.Command) (*readline.Instance, error) {
	return readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		AutoComplete:    completer(commands),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
}

func completer(commands map[string]command.Command) *readline.PrefixCompleter {
	actions := map[string][]readline.PrefixCompleterInterface{}
	for _, cmd := range commands {
		actions[cmd.Service] = append(actions[cmd.Service], readline.PcItem(cmd.Action))
	}
	services := make([]string, 0, len(actions))
	for service := range actions {
		services = append(services, service)
	}
	sort.Strings(services)

	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout"), readline.PcItem("token")),
		readline.PcItem("show", readline.PcItem("config"), readline.PcItem("token")),
	}
	for _, service := range services {
		items = append(items, readline.PcItem(service, actions[service]...))
	}
	return readline.NewPrefixCompleter(items...)
}

// Hooks returns workflow callbacks that print background updates.
func (s *Session) Hooks() workflow.Options {
	return workflow.Options{
		OnChange: func(sub model.Submission) {
			line := fmt.Sprintf("[update] submission %d: %s", sub.ID, sub.Status)
			if sub.Score != nil {
				line += fmt.Sprintf(", score %d", *sub.Score)
			}
			if sub.Status == model.StatusAppealing {
				line += fmt.Sprintf(", %d appealable error(s), %d round(s) left", len(sub.EligibleErrors()), sub.AppealsRemaining())
			}
			s.printLine("%s", line)
		},
		OnDegraded: func(err error) {
			s.printLine("[warn] lost contact with the evaluation service: %v", err)
		},
		OnRecovered: func() {
			s.printLine("[info] connection to the evaluation service restored")
		},
		OnFailed: func(err error) {
			s.printLine("[error] stopped tracking submission: %v", err)
		},
	}
}

// Run reads commands until exit or end of input.
func (s *Session) Run(ctx context.Context) error {
	defer s.env.Close()
	for {
		line, err := s.reader.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}

		if err := s.Execute(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				s.printLine("bye")
				return nil
			}
			s.printError(err)
		}
	}
}

// Execute handles one input line.
func (s *Session) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if handled, err := s.handleSystemCommand(line); handled {
		return err
	}
	return s.handleCommand(ctx, line)
}

func (s *Session) handleSystemCommand(line string) (bool, error) {
	switch line {
	case "exit", "quit":
		return true, errExit
	case "help":
		s.printHelp()
		return true, nil
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true, nil
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true, nil
	}
	return false, nil
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|token|timeout")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8000")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 10s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil || dur <= 0 {
			s.printLine("invalid duration: %s", parts[1])
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "token":
		if len(parts) < 2 {
			s.printLine("usage: set token <access_token>")
			return
		}
		s.credentials.SetToken(parts[1])
		s.printLine("token updated")
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "token":
		token := s.credentials.Token()
		if token == "" {
			s.printLine("token: <empty>")
			return
		}
		if len(token) > 12 {
			token = token[:6] + "..." + token[len(token)-4:]
		}
		s.printLine("token: %s", token)
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("timeout: %s", s.client.Timeout())
	default:
		s.printLine("usage: show token|config")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	key := fmt.Sprintf("%s %s", tokens[0], tokens[1])
	cmd, ok := s.commands[key]
	if !ok {
		return fmt.Errorf("unknown command: %s", key)
	}
	params := command.Params{}
	for _, token := range tokens[2:] {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid param: %s", token)
		}
		params.Set(parts[0], parts[1])
	}
	params.Canonicalize(cmd.Fields)

	if err := s.promptMissing(params.Missing(cmd.Fields), params); err != nil {
		return err
	}
	if err := params.Check(cmd.Fields); err != nil {
		return err
	}

	result, err := cmd.Run(ctx, s.env, params)
	if err != nil {
		logger.Debug(ctx, "command failed", zap.String("command", key), zap.Error(err))
		return err
	}
	s.render(result)
	return nil
}

func (s *Session) promptMissing(fields []command.Field, params command.Params) error {
	if len(fields) == 0 {
		return nil
	}
	defer s.reader.SetPrompt(prompt)
	for _, field := range fields {
		label := field.Prompt
		if label == "" {
			label = field.Name
		}
		s.reader.SetPrompt(label + ": ")
		value, err := s.reader.Readline()
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return fmt.Errorf("%s is required", field.Name)
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) render(result interface{}) {
	if text, ok := result.(string); ok {
		s.printLine("%s", text)
		return
	}
	var data []byte
	var err error
	if s.prettyJSON {
		data, err = json.MarshalIndent(result, "", "  ")
	} else {
		data, err = json.Marshal(result)
	}
	if err != nil {
		s.printLine("%v", result)
		return
	}
	s.printLine("%s", string(data))
}

func (s *Session) printError(err error) {
	var e *appErr.Error
	if !errors.As(err, &e) {
		s.printLine("error: %v", err)
		return
	}
	s.printLine("error[%d]: %s", e.Code, e.Error())
	if missing, ok := e.Details["missing"].([]string); ok {
		s.printLine("  missing justification: %s", strings.Join(missing, ", "))
	}
	if e.Code.Retryable() {
		s.printLine("  the request can be retried")
	}
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout|token | show token|config")
	keys := make([]string, 0, len(s.commands))
	for key := range s.commands {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	s.printLine("commands:")
	for _, key := range keys {
		s.printLine("  %s", s.commands[key].Usage)
	}
}

func (s *Session) printLine(format string, args ...interface{}) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
