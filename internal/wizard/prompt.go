package wizard

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// Prompter reads answers from In and writes questions to Out.
type Prompter struct {
	In  io.Reader
	Out io.Writer

	lines *bufio.Scanner
}

// StdPrompter returns a Prompter on the process's stdin and stdout.
func StdPrompter() *Prompter {
	return &Prompter{In: os.Stdin, Out: os.Stdout}
}

func (p *Prompter) line() string {
	if p.lines == nil {
		p.lines = bufio.NewScanner(p.In)
	}
	if !p.lines.Scan() {
		return ""
	}
	return strings.TrimSpace(p.lines.Text())
}

func (p *Prompter) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.Out, format, args...)
}

// Ask reads one line; an empty answer selects def.
func (p *Prompter) Ask(question, def string) string {
	if def == "" {
		p.printf("%s: ", question)
	} else {
		p.printf("%s [%s]: ", question, def)
	}
	if ans := p.line(); ans != "" {
		return ans
	}
	return def
}

// AskSecret reads a value without echo when In is a terminal. Piped input
// is read as a plain line.
func (p *Prompter) AskSecret(question string) string {
	p.printf("%s: ", question)
	if f, ok := p.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		p.printf("\n")
		if err == nil {
			return strings.TrimSpace(string(b))
		}
	}
	return p.line()
}

// AskPositive reads a positive integer, asking again on bad input. An
// exhausted input stream returns def.
func (p *Prompter) AskPositive(question string, def int) int {
	for range 5 {
		n, err := strconv.Atoi(p.Ask(question, strconv.Itoa(def)))
		if err == nil && n > 0 {
			return n
		}
		p.printf("  Enter a whole number greater than zero.\n")
	}
	return def
}

// Pick lists options and returns the chosen one. def is an index into
// options.
func (p *Prompter) Pick(question string, options []string, def int) string {
	p.printf("%s\n", question)
	for i, opt := range options {
		mark := " "
		if i == def {
			mark = "*"
		}
		p.printf("  %s %d) %s\n", mark, i+1, opt)
	}
	for range 5 {
		ans := p.Ask("  Choice", strconv.Itoa(def+1))
		if n, err := strconv.Atoi(ans); err == nil && n >= 1 && n <= len(options) {
			return options[n-1]
		}
		// Accept the option text as well as its number.
		for _, opt := range options {
			if strings.EqualFold(ans, opt) {
				return opt
			}
		}
		p.printf("  Enter a number from 1 to %d.\n", len(options))
	}
	return options[def]
}

// YesNo asks a yes/no question.
func (p *Prompter) YesNo(question string, def bool) bool {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	switch strings.ToLower(p.Ask(question+" ("+hint+")", "")) {
	case "":
		return def
	case "y", "yes":
		return true
	default:
		return false
	}
}
