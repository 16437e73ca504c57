// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file holds the chat REPL: the session loop that drives the answer
// gate turn by turn, and the input readers behind it.
//
//	cmd_chat.go → ChatSession → gatePipeline (gate.go)
//	                          → InputReader (interactive or stdin)

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianGuard/pkg/ux"
	"github.com/AleutianAI/AleutianGuard/services/guard"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/conversation"
)

// replRuleWidth matches the banner width of the original REPL.
const replRuleWidth = 60

// maxInputHistory bounds the in-memory up-arrow history.
const maxInputHistory = 50

// =============================================================================
// Input Readers
// =============================================================================

// InputReader abstracts user input so the session loop can be driven by
// a terminal, a pipe, or a test.
type InputReader interface {
	// ReadLine reads one line, trimmed. Returns io.EOF when the input
	// source is exhausted or the user asked to leave (Ctrl+C / Ctrl+D).
	ReadLine() (string, error)
}

// PromptingInputReader is implemented by readers that render their own
// prompt. The session checks for it to avoid double-prompting.
type PromptingInputReader interface {
	InputReader
	SetPrompt(prompt string)
}

// StdinReader reads plain lines from stdin. Used for piped input and
// non-TTY environments.
type StdinReader struct {
	reader *bufio.Reader
}

func NewStdinReader() *StdinReader {
	return &StdinReader{reader: bufio.NewReader(os.Stdin)}
}

func (r *StdinReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// InteractiveInputReader reads input through a bubbletea text field with
// up-arrow history and line editing. Construction falls back to a
// StdinReader when stdin is not a terminal.
type InteractiveInputReader struct {
	history    []string
	maxHistory int
	prompt     string
}

// NewInteractiveInputReader returns an interactive reader on a TTY and a
// plain StdinReader otherwise.
func NewInteractiveInputReader(maxHistory int) InputReader {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return NewStdinReader()
	}
	return &InteractiveInputReader{
		history:    make([]string, 0, maxHistory),
		maxHistory: maxHistory,
		prompt:     "> ",
	}
}

// SetPrompt implements PromptingInputReader.
func (r *InteractiveInputReader) SetPrompt(prompt string) {
	r.prompt = prompt
}

// ReadLine runs one bubbletea input round. Enter submits; Ctrl+C and
// Ctrl+D both surface as io.EOF, which the session treats as leaving the
// chat, the same way the plain reader does at end of input.
func (r *InteractiveInputReader) ReadLine() (string, error) {
	ti := textinput.New()
	ti.Prompt = r.prompt
	ti.Focus()
	ti.CharLimit = 4096
	ti.Width = 80

	m := inputModel{textInput: ti, history: r.history, historyIndex: -1}

	p := tea.NewProgram(m, tea.WithOutput(os.Stderr))
	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}
	result, ok := finalModel.(inputModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type from bubbletea: %T", finalModel)
	}
	if result.interrupted {
		return "", io.EOF
	}

	input := strings.TrimSpace(result.textInput.Value())
	if input != "" {
		r.addToHistory(input)
	}
	return input, nil
}

func (r *InteractiveInputReader) addToHistory(input string) {
	if len(r.history) > 0 && r.history[len(r.history)-1] == input {
		return
	}
	r.history = append(r.history, input)
	if len(r.history) > r.maxHistory {
		r.history = r.history[1:]
	}
}

// inputModel is the bubbletea model for one input round.
type inputModel struct {
	textInput    textinput.Model
	history      []string
	historyIndex int
	currentInput string
	interrupted  bool
}

func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			return m, tea.Quit

		case tea.KeyCtrlC, tea.KeyCtrlD:
			m.interrupted = true
			return m, tea.Quit

		case tea.KeyUp:
			if len(m.history) == 0 {
				return m, nil
			}
			if m.historyIndex == -1 {
				m.currentInput = m.textInput.Value()
				m.historyIndex = len(m.history) - 1
			} else if m.historyIndex > 0 {
				m.historyIndex--
			}
			m.textInput.SetValue(m.history[m.historyIndex])
			m.textInput.CursorEnd()
			return m, nil

		case tea.KeyDown:
			if m.historyIndex == -1 {
				return m, nil
			}
			if m.historyIndex < len(m.history)-1 {
				m.historyIndex++
				m.textInput.SetValue(m.history[m.historyIndex])
			} else {
				m.historyIndex = -1
				m.textInput.SetValue(m.currentInput)
			}
			m.textInput.CursorEnd()
			return m, nil
		}
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	return m.textInput.View()
}

// MockInputReader feeds a canned input sequence to session tests.
type MockInputReader struct {
	inputs []string
	index  int
}

func NewMockInputReader(inputs []string) *MockInputReader {
	return &MockInputReader{inputs: inputs}
}

func (m *MockInputReader) ReadLine() (string, error) {
	if m.index >= len(m.inputs) {
		return "", io.EOF
	}
	line := m.inputs[m.index]
	m.index++
	return line, nil
}

// =============================================================================
// Chat Session
// =============================================================================

// ChatSession drives the interactive chat loop for one tenant. Each
// exchange runs the full gate pipeline, so every REPL turn is classified,
// access-filtered, masked, and audited exactly like a one-shot ask.
//
// Commands: /clear wipes the tenant's memory, /mode switches between
// buffer and summary recall, /exit leaves. Switching into summary mode
// regenerates the summary from the stored turns so earlier buffer-mode
// history carries over.
type ChatSession struct {
	pipeline *gatePipeline
	tenant   string
	mode     conversation.Mode
	reader   InputReader
	out      io.Writer
}

// NewChatSession wires a session over an assembled pipeline. The writer
// receives all REPL output; pass os.Stdout outside of tests.
func NewChatSession(pipeline *gatePipeline, tenant string, mode conversation.Mode, reader InputReader, out io.Writer) *ChatSession {
	return &ChatSession{
		pipeline: pipeline,
		tenant:   tenant,
		mode:     mode,
		reader:   reader,
		out:      out,
	}
}

// Run executes the REPL until /exit, end of input, or context
// cancellation.
func (s *ChatSession) Run(ctx context.Context) error {
	s.printBanner()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprint(s.out, "\n\nExiting chat. Goodbye!\n")
			return ctx.Err()
		default:
		}

		line, err := s.readLine()
		if err != nil {
			// Ctrl+C, Ctrl+D, or exhausted piped input.
			fmt.Fprint(s.out, "\n\nExiting chat. Goodbye!\n")
			return nil
		}
		if line == "" {
			continue
		}

		switch {
		case line == "/exit":
			fmt.Fprint(s.out, "\nExiting chat. Goodbye!\n")
			return nil
		case line == "/clear":
			s.clearMemory(ctx)
		case strings.HasPrefix(line, "/mode "):
			s.switchMode(ctx, line)
		default:
			s.exchange(ctx, line)
		}
	}
}

func (s *ChatSession) readLine() (string, error) {
	prompt := fmt.Sprintf("[%s] >> ", s.tenant)
	if p, ok := s.reader.(PromptingInputReader); ok {
		p.SetPrompt(prompt)
	} else {
		fmt.Fprint(s.out, prompt)
	}
	line, err := s.reader.ReadLine()
	return strings.TrimSpace(line), err
}

// exchange runs one question through the gate and renders the answer
// with the command reminder footer. Persistence and auditing happen
// inside the pipeline run.
func (s *ChatSession) exchange(ctx context.Context, question string) {
	result := s.pipeline.runOnce(ctx, s.tenant, question, s.mode)

	answer := result.Answer
	if guard.IsRefusal(answer) {
		answer = ux.Styles.Error.Render(answer)
	}

	rule := ux.Styles.Muted.Render(strings.Repeat("=", replRuleWidth))
	fmt.Fprintf(s.out, "\n%s\n\n", answer)
	fmt.Fprintf(s.out, "%s\n", rule)
	fmt.Fprintf(s.out, "%s\n", ux.Styles.Muted.Render(
		fmt.Sprintf("  Memory: %s | Commands: /clear /mode buffer /mode summary /exit", s.mode)))
	fmt.Fprintf(s.out, "%s\n", rule)
}

func (s *ChatSession) clearMemory(ctx context.Context) {
	if err := s.pipeline.memory.Clear(ctx, s.tenant); err != nil {
		fmt.Fprintf(s.out, "%s\n\n", ux.Styles.Warning.Render(
			fmt.Sprintf("⚠ Could not clear memory: %v", err)))
		return
	}
	fmt.Fprintf(s.out, "%s\n\n", ux.Styles.Success.Render(
		fmt.Sprintf("✓ Memory cleared for %s", s.tenant)))
}

// switchMode handles "/mode buffer" and "/mode summary". Entering
// summary mode from another mode rebuilds the rolling summary from the
// stored turns, when any exist.
func (s *ChatSession) switchMode(ctx context.Context, line string) {
	parts := strings.Fields(line)
	if len(parts) != 2 || (parts[1] != "buffer" && parts[1] != "summary") {
		fmt.Fprint(s.out, "Usage: /mode buffer OR /mode summary\n\n")
		return
	}

	oldMode := s.mode
	s.mode = conversation.Mode(parts[1])
	fmt.Fprintf(s.out, "%s\n\n", ux.Styles.Success.Render(
		fmt.Sprintf("✓ Switched to '%s' mode", s.mode)))

	if s.mode != conversation.ModeSummary || oldMode == conversation.ModeSummary {
		return
	}
	turns, err := s.pipeline.memory.Turns(ctx, s.tenant, 1)
	if err != nil || len(turns) == 0 {
		return
	}
	if err := s.pipeline.memory.RegenerateSummary(ctx, s.tenant); err != nil {
		fmt.Fprintf(s.out, "%s\n\n", ux.Styles.Warning.Render(
			fmt.Sprintf("⚠ Could not generate summary: %v", err)))
		return
	}
	fmt.Fprintf(s.out, "%s\n\n", ux.Styles.Success.Render(
		"✓ Generated summary from conversation history"))
}

func (s *ChatSession) printBanner() {
	rule := ux.Styles.Muted.Render(strings.Repeat("=", replRuleWidth))
	fmt.Fprintf(s.out, "\n%s\n", rule)
	fmt.Fprintf(s.out, "%s\n", ux.Styles.Title.Render(
		fmt.Sprintf("  Chat REPL for %s | Memory: %s", s.tenant, s.mode)))
	fmt.Fprintf(s.out, "%s\n", rule)
	fmt.Fprint(s.out, "Commands: /clear | /mode buffer | /mode summary | /exit\n\n")
}
