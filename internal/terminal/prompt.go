// Package terminal implements the interactive prompts used by freedisk:
// hidden password entry, yes/no questions and line input with defaults.
package terminal

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/illarion/freedisk/internal/crypto"
)

var ErrPasswordMismatch = errors.New("passwords do not match")

// maxConfirmRounds bounds how often PasswordConfirm re-asks after a mismatch.
const maxConfirmRounds = 5

// Prompter reads answers from a line-oriented input and writes questions
// to out. Passwords are read without echo when input is a terminal.
type Prompter struct {
	in         *bufio.Reader
	out        io.Writer
	readSecret func() ([]byte, error)
}

// New returns a Prompter on stdin/stdout.
func New() *Prompter {
	p := &Prompter{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stdout,
	}
	p.readSecret = func() ([]byte, error) {
		if !IsTerminal() {
			return p.readLine()
		}
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(p.out) // New line after password
		return password, err
	}
	return p
}

// NewWithIO returns a Prompter that reads everything, passwords included,
// as lines from in.
func NewWithIO(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{
		in:  bufio.NewReader(in),
		out: out,
	}
	p.readSecret = p.readLine
	return p
}

// IsTerminal returns true if stdin is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

func (p *Prompter) readLine() ([]byte, error) {
	line, err := p.in.ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

// Password reads a password without echoing it. Surrounding whitespace is removed.
// The caller is responsible for calling crypto.ClearBytes on the result.
func (p *Prompter) Password(prompt string) ([]byte, error) {
	fmt.Fprintf(p.out, "%s: ", prompt)
	password, err := p.readSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	trimmed := bytes.TrimSpace(password)
	result := make([]byte, len(trimmed))
	copy(result, trimmed)
	crypto.ClearBytes(password)
	return result, nil
}

// PasswordConfirm reads a password and, unless it is empty, asks for it again
// until both entries match. An empty password is returned as is.
func (p *Prompter) PasswordConfirm(prompt string) ([]byte, error) {
	for round := 0; round < maxConfirmRounds; round++ {
		password, err := p.Password(prompt)
		if err != nil {
			return nil, err
		}
		if len(password) == 0 {
			return password, nil
		}

		confirm, err := p.Password("Verify password")
		if err != nil {
			crypto.ClearBytes(password)
			return nil, err
		}
		match := crypto.ConstantTimeCompare(password, confirm)
		crypto.ClearBytes(confirm)
		if match {
			return password, nil
		}

		crypto.ClearBytes(password)
		fmt.Fprintln(p.out, "passwords do not match, please try again")
	}
	return nil, ErrPasswordMismatch
}

// YesNo asks a yes/no question. An empty answer selects dflt.
func (p *Prompter) YesNo(question string, dflt bool) (bool, error) {
	choices := "[y/N]"
	if dflt {
		choices = "[Y/n]"
	}
	fmt.Fprintf(p.out, "%s? %s ", question, choices)

	line, err := p.readLine()
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(string(line)))
	if answer == "" {
		return dflt, nil
	}
	return answer[0] == 'y', nil
}

// Line asks for a value, showing dflt in brackets. An empty answer selects dflt.
func (p *Prompter) Line(question, dflt string) (string, error) {
	fmt.Fprintf(p.out, "%s [%s] ", question, dflt)

	line, err := p.readLine()
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(string(line))
	if answer == "" {
		return dflt, nil
	}
	return answer, nil
}

// Int asks for an integer in [min, max], re-asking on invalid input.
func (p *Prompter) Int(question string, dflt, min, max int) (int, error) {
	for {
		answer, err := p.Line(question, strconv.Itoa(dflt))
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(answer)
		if err != nil || n < min || n > max {
			fmt.Fprintf(p.out, "Please enter a number between %d and %d\n", min, max)
			continue
		}
		return n, nil
	}
}

// Println writes a line to the prompter's output.
func (p *Prompter) Println(a ...any) {
	fmt.Fprintln(p.out, a...)
}
