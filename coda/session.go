package coda

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"

	"coda/internal/approval"
	"coda/internal/nvim"
	"coda/internal/ollama"
	"coda/internal/parser"
	"coda/internal/scanner"
	"coda/internal/ui"
	"coda/model"
)

const (
	// maxExchanges bounds the conversation context sent to the model.
	maxExchanges = 20
	// contextFiles caps the file list embedded in the system prompt.
	contextFiles = 20
)

const systemPrompt = "You are a coding assistant working inside the user's project. " +
	"When you propose file changes, give the full new content of each file in a " +
	"fenced code block, and name the file in a comment on the first line of the " +
	"block or in the sentence just above it. To remove a file, say \"delete <path>\". " +
	"Only propose changes the user asked for."

// Session runs the interactive chat loop: read a line, dispatch slash
// commands, otherwise send the message to the model and walk any proposed
// changes through the approval gate. Turns are strictly sequential.
type Session struct {
	app       *App
	ui        *ui.Printer
	out       io.Writer
	in        io.Reader
	sc        *bufio.Scanner
	refresher *nvim.Refresher

	project     *scanner.Project
	history     []ollama.Message
	pending     []model.Candidate
	lastResults []model.ApplyResult
	lastCommit  string

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newSession(a *App, in io.Reader, p *ui.Printer) *Session {
	s := &Session{
		app: a,
		ui:  p,
		out: p.Writer(),
		in:  in,
	}
	s.resetScanner()
	return s
}

func (s *Session) resetScanner() {
	s.sc = bufio.NewScanner(s.in)
	// Pasted chat lines can be large.
	s.sc.Buffer(make([]byte, 64*1024), 1024*1024)
}

// readLine returns the next input line, false at end of input. After an
// EOF the scanner is rebuilt so a terminal can deliver more input on the
// next read. The approval gate shares this reader during reviews.
func (s *Session) readLine() (string, bool) {
	if s.sc.Scan() {
		return s.sc.Text(), true
	}
	if err := s.sc.Err(); err != nil {
		slog.Debug("input read error", "err", err)
	}
	s.resetScanner()
	return "", false
}

// Run checks the model is reachable, indexes the project, and hands off
// to the prompt loop.
func (s *Session) Run() error {
	ctx := context.Background()
	a := s.app

	if err := a.client.Ping(ctx); err != nil {
		return fmt.Errorf("cannot connect to Ollama at %s (is `ollama serve` running?): %w", a.client.BaseURL, err)
	}
	if err := a.client.Check(ctx); err != nil {
		return err
	}
	project, err := a.scan.Scan()
	if err != nil {
		return fmt.Errorf("failed to scan project: %w", err)
	}
	s.project = project

	s.refresher = nvim.Connect()
	defer s.refresher.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer func() {
		signal.Stop(sig)
		close(sig)
	}()
	go func() {
		for range sig {
			s.interrupt()
			fmt.Fprintln(s.out, "\nUse /quit to exit")
		}
	}()

	s.ui.Banner(a.client.Model, a.root)
	return s.loop()
}

func (s *Session) loop() error {
	eof := 0
	for {
		fmt.Fprint(s.out, s.ui.UserPrompt())
		line, ok := s.readLine()
		if !ok {
			eof++
			if eof >= 2 {
				s.ui.Println("\nGoodbye!")
				return nil
			}
			s.ui.Println("\n(Press Ctrl+D again to exit, or continue typing)")
			continue
		}
		eof = 0
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if s.command(line) {
				s.ui.Println("Goodbye!")
				return nil
			}
			continue
		}
		s.turn(line)
	}
}

// command dispatches one slash command. It reports whether to quit.
func (s *Session) command(line string) bool {
	cmd, arg := line, ""
	if i := strings.IndexByte(line, ' '); i >= 0 {
		cmd, arg = line[:i], strings.TrimSpace(line[i+1:])
	}
	switch strings.ToLower(cmd) {
	case "/quit", "/exit":
		return true
	case "/help":
		s.printHelp()
	case "/status":
		s.printStatus()
	case "/files":
		s.printFiles()
	case "/file":
		s.printFile(arg)
	case "/history":
		s.printHistoryCmd(arg)
	case "/revert":
		s.revertCmd(arg)
	case "/approve":
		s.approvePending()
	case "/reject":
		s.rejectPending()
	case "/model":
		s.switchModel(arg)
	default:
		s.ui.Warn("Unknown command: %s. Type /help for available commands.", cmd)
	}
	return false
}

// turn sends one user message to the model, streams the reply, and runs
// any proposed changes through review.
func (s *Session) turn(input string) {
	a := s.app
	ctx, done := s.turnContext()
	defer done()

	s.history = append(s.history, ollama.Message{Role: "user", Content: input})

	s.ui.AssistantPrefix()
	reply, err := a.client.Chat(ctx, s.messages(), s.ui.Chunk)
	s.ui.Println()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.ui.Warn("Interrupted.")
			return
		}
		s.ui.Error("Model error: %v", err)
		return
	}
	s.history = append(s.history, ollama.Message{Role: "assistant", Content: reply})
	s.trimHistory()

	p := parser.New(parser.Options{
		Extensions: a.cfg.Extensions,
		Mentions:   parser.ExtractMentions(input),
		Readme:     strings.Contains(strings.ToLower(input), "readme"),
		ReadFile:   a.readProjectFile,
	})
	cands := p.Parse(reply)
	for _, w := range p.Warnings() {
		s.ui.Warn("%s", w.Reason)
	}
	if len(cands) == 0 {
		return
	}

	if len(s.pending) > 0 {
		s.ui.Warn("Discarding %d previously pending change(s).", len(s.pending))
		s.pending = nil
	}
	s.ui.Info("\n%d file change(s) proposed.", len(cands))
	s.review(cands)
}

// review gates the candidates, applies the accepted ones, and commits the
// batch. An abort parks the remainder on the session for /approve.
func (s *Session) review(cands []model.Candidate) {
	gate := approval.New(approval.Options{
		Out:      s.out,
		ReadLine: s.readLine,
		Describe: s.ui.Proposal,
	})
	reviewed, abortedAt := gate.Review(cands)
	accepted, rejected := splitReviewed(reviewed, abortedAt)
	if abortedAt >= 0 {
		s.pending = append([]model.Candidate(nil), cands[abortedAt:]...)
		s.ui.Warn("Aborted review; %d change(s) pending. Use /approve to resume or /reject to discard.", len(s.pending))
	}
	if len(accepted) == 0 && rejected == 0 {
		return
	}

	summary, results, touched := s.app.applyReviewed(accepted, rejected)
	printOutcome(s.ui, results, summary)
	s.lastResults = results
	s.lastCommit = summary.CommitID
	if len(touched) > 0 {
		s.afterMutation(touched)
	}
}

// afterMutation refreshes the project index and nudges a parent Neovim
// to reload the touched buffers.
func (s *Session) afterMutation(paths []string) {
	if project, err := s.app.scan.Scan(); err != nil {
		slog.Warn("project rescan failed", "err", err)
	} else {
		s.project = project
	}
	if len(paths) > 0 {
		s.refresher.Refresh(s.app.root, paths)
	}
}

func (s *Session) printHelp() {
	s.ui.Header("Available commands:")
	s.ui.Println("  /help           - Show this help message")
	s.ui.Println("  /status         - Show project status")
	s.ui.Println("  /files          - List indexed project files")
	s.ui.Println("  /file <path>    - Show the content of a file")
	s.ui.Println("  /history [n]    - Show recent commits")
	s.ui.Println("  /revert [hash]  - Revert the last applied commit, or reset to a commit")
	s.ui.Println("  /approve        - Review changes left pending by an abort")
	s.ui.Println("  /reject         - Discard pending changes")
	s.ui.Println("  /model [name]   - Show or switch the model")
	s.ui.Println("  /quit, /exit    - Exit")
	s.ui.Println("Anything else is sent to the model.")
}

func (s *Session) printStatus() {
	a := s.app
	s.ui.Header("Project Status:")
	s.ui.Println("Path: " + a.root)
	s.ui.Println("Model: " + a.client.Model)
	if s.project != nil {
		line := fmt.Sprintf("Files: %d", len(s.project.Files))
		if s.project.Truncated {
			line += " (listing truncated)"
		}
		s.ui.Println(line)
	}
	switch {
	case a.cfg.NoGit:
		s.ui.Println("Git: disabled")
	case a.repo == nil:
		s.ui.Println("Git: not initialized (first apply will initialize)")
	default:
		if changed, err := a.repo.Status(); err != nil {
			slog.Warn("git status failed", "err", err)
		} else {
			s.ui.Println(fmt.Sprintf("Modified files: %d", len(changed)))
		}
	}
	if s.lastCommit != "" {
		s.ui.Println("Last commit: " + shortCommit(s.lastCommit))
	}
	s.ui.Println(fmt.Sprintf("Pending proposals: %d", len(s.pending)))
}

func (s *Session) printFiles() {
	if s.project == nil {
		s.ui.Warn("Project not scanned yet.")
		return
	}
	s.ui.Println(strings.TrimRight(s.project.Stats(), "\n"))
}

func (s *Session) printFile(path string) {
	if path == "" {
		s.ui.Warn("Usage: /file <path>")
		return
	}
	content, err := s.app.readProjectFile(path)
	if err != nil {
		s.ui.Error("Could not read file: %s", path)
		return
	}
	s.ui.Header("Content of %s:", path)
	s.ui.Println(strings.TrimRight(content, "\n"))
}

func (s *Session) printHistoryCmd(arg string) {
	limit := defaultHistoryLimit
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			s.ui.Warn("Usage: /history [count]")
			return
		}
		limit = n
	}
	if err := s.app.printHistory(s.ui, limit); err != nil {
		s.ui.Error("%v", err)
	}
}

func (s *Session) revertCmd(arg string) {
	a := s.app
	if a.cfg.NoGit {
		s.ui.Warn("Git is disabled; revert is unavailable.")
		return
	}
	if a.repo == nil {
		s.ui.Warn("Nothing to revert yet.")
		return
	}

	if arg != "" {
		if !s.confirm(fmt.Sprintf("Reset the project to commit %s? [y/N] ", arg)) {
			s.ui.Info("Cancelled.")
			return
		}
		if err := a.repo.Reset(arg); err != nil {
			s.ui.Error("Reset failed: %v", err)
			return
		}
		s.ui.Success("Reset to %s", arg)
		s.lastResults = nil
		s.afterMutation(nil)
		return
	}

	entry, ok := a.journal.Last()
	if !ok {
		s.ui.Warn("No applied changes to revert.")
		return
	}
	if !s.confirm(fmt.Sprintf("Revert commit %s? [y/N] ", shortCommit(entry.Commit))) {
		s.ui.Info("Cancelled.")
		return
	}
	paths, err := a.repo.RevertLast(entry.Commit)
	if err != nil {
		s.ui.Error("Revert failed: %v", err)
		return
	}
	if _, err := a.journal.Pop(); err != nil {
		slog.Warn("failed to trim apply journal", "err", err)
	}
	s.ui.Success("Reverted commit %s; restored %d file(s):", shortCommit(entry.Commit), len(paths))
	for _, p := range paths {
		s.ui.Println("  - " + p)
	}
	s.lastResults = nil
	s.lastCommit = ""
	s.afterMutation(paths)
}

func (s *Session) confirm(prompt string) bool {
	fmt.Fprint(s.out, prompt)
	line, ok := s.readLine()
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func (s *Session) approvePending() {
	if len(s.pending) == 0 {
		s.ui.Info("No pending changes.")
		return
	}
	cands := s.pending
	s.pending = nil
	s.review(cands)
}

func (s *Session) rejectPending() {
	if len(s.pending) == 0 {
		s.ui.Info("No pending changes.")
		return
	}
	s.ui.Info("Rejected %d proposed change(s):", len(s.pending))
	for _, c := range s.pending {
		path := c.Path
		if path == "" {
			path = "(no filename)"
		}
		s.ui.Println("  - " + path)
	}
	s.pending = nil
}

func (s *Session) switchModel(name string) {
	ctx := context.Background()
	a := s.app
	if name == "" {
		models, err := a.client.ListModels(ctx)
		if err != nil {
			s.ui.Error("Could not list models: %v", err)
			return
		}
		s.ui.Info("Current model: %s", a.client.Model)
		s.ui.Info("Available:")
		for _, m := range models {
			s.ui.Println("  - " + m)
		}
		return
	}
	ok, err := a.client.Has(ctx, name)
	if err != nil {
		s.ui.Error("Could not check model: %v", err)
		return
	}
	if !ok {
		s.ui.Error("Model %s is not available locally. Run: ollama pull %s", name, name)
		return
	}
	a.client.Model = name
	s.ui.Success("Switched to %s", name)
}

// messages assembles the system prompt plus the trimmed conversation.
func (s *Session) messages() []ollama.Message {
	system := systemPrompt
	if s.project != nil {
		system += "\n\n" + s.project.Context(contextFiles)
	}
	msgs := make([]ollama.Message, 0, len(s.history)+1)
	msgs = append(msgs, ollama.Message{Role: "system", Content: system})
	return append(msgs, s.history...)
}

func (s *Session) trimHistory() {
	if len(s.history) > 2*maxExchanges {
		s.history = s.history[len(s.history)-2*maxExchanges:]
	}
}

// turnContext returns a context cancelled by Ctrl+C for the duration of
// one model call.
func (s *Session) turnContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	return ctx, func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}
}

// interrupt cancels the in-flight model call, if any.
func (s *Session) interrupt() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
}
