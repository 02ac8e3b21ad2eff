package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

// lineReader yields one line of user input per call and io.EOF when the
// user is done.
type lineReader interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// terminalInput reads with line editing and keeps history across sessions.
type terminalInput struct {
	line        *liner.State
	historyFile string
}

func newTerminalInput() *terminalInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	t := &terminalInput{line: line, historyFile: historyPath()}
	if f, err := os.Open(t.historyFile); err == nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	return t
}

func historyPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "prismatic", "chat_history")
}

func (t *terminalInput) ReadLine(prompt string) (string, error) {
	input, err := t.line.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		t.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history (owner-only) and restores the terminal.
func (t *terminalInput) Close() error {
	if err := os.MkdirAll(filepath.Dir(t.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(t.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			t.line.WriteHistory(f)
			f.Close()
		}
	}
	return t.line.Close()
}

// scannerInput reads plain lines, echoing the prompt to out.
type scannerInput struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func newScannerInput(in io.Reader, out io.Writer) *scannerInput {
	s := bufio.NewScanner(in)
	s.Buffer(make([]byte, 64*1024), 1<<20)
	return &scannerInput{scanner: s, out: out}
}

func (s *scannerInput) ReadLine(prompt string) (string, error) {
	fmt.Fprint(s.out, prompt)
	if !s.scanner.Scan() {
		fmt.Fprintln(s.out)
		if err := s.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.scanner.Text(), nil
}

func (s *scannerInput) Close() error { return nil }
