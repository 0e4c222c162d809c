// Package repl implements the Read-Eval-Print Loop for a running Rydesta
// program: an interactive session that feeds one line at a time to a
// master.Master and prints whatever comes back, in colored, readline-
// backed fashion.
package repl

import (
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/rydesta-lang/rydesta/master"
	"github.com/rydesta-lang/rydesta/value"
)

// Color definitions for REPL output: blue for separators, yellow for
// results, red for errors, green for the banner, cyan for instructions.
var (
	blueColor   = color.New(color.FgBlue)
	yellowColor = color.New(color.FgYellow)
	redColor    = color.New(color.FgRed)
	greenColor  = color.New(color.FgGreen)
	cyanColor   = color.New(color.FgCyan)
)

// Repl represents the Read-Eval-Print Loop instance: the display text
// shown at startup and the prompt shown on every line.
type Repl struct {
	Banner  string // ASCII banner displayed at startup
	Version string // version string of the interpreter
	Line    string // separator rule printed around the banner
	Prompt  string // command prompt shown to the user
}

// NewRepl creates and initializes a new Repl instance.
func NewRepl(banner, version, line, prompt string) *Repl {
	return &Repl{Banner: banner, Version: version, Line: line, Prompt: prompt}
}

// PrintBannerInfo displays the welcome banner and usage instructions.
func (r *Repl) PrintBannerInfo(writer io.Writer) {
	blueColor.Fprintf(writer, "%s\n", r.Line)
	greenColor.Fprintf(writer, "%s\n", r.Banner)
	blueColor.Fprintf(writer, "%s\n", r.Line)
	yellowColor.Fprintln(writer, "Version: "+r.Version)
	blueColor.Fprintf(writer, "%s\n", r.Line)
	cyanColor.Fprintf(writer, "%s\n", "Type your code and press enter")
	cyanColor.Fprintf(writer, "%s\n", "Type '.exit' to quit")
	cyanColor.Fprintf(writer, "%s\n", "Use up/down arrows to navigate command history")
	blueColor.Fprintf(writer, "%s\n", r.Line)
}

// Start begins the REPL main loop: print the banner, then read, feed,
// and print one line at a time until the user exits or EOF is hit. m is
// fed in place — a binding made on one line is visible on the next,
// exactly like a file evaluated top to bottom.
//
// The loop continues until the user types ".exit", EOF is encountered
// (Ctrl+D), or readline itself errors.
func (r *Repl) Start(writer io.Writer, m *master.Master) error {
	r.PrintBannerInfo(writer)

	rl, err := readline.New(r.Prompt)
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			writer.Write([]byte("Good Bye!\n"))
			return nil
		}

		line = strings.Trim(line, " \n\t\r")
		if line == "" {
			continue
		}
		if line == ".exit" {
			writer.Write([]byte("Good Bye!\n"))
			return nil
		}
		rl.SaveHistory(line)

		r.evalLineWithRecovery(writer, m, line)
	}
}

// evalLineWithRecovery feeds one line to m and prints the outcome:
// errors in red (the session keeps running afterward), any non-"nothing"
// result in yellow. An internal-error panic is caught and reported the
// same way a genuine evaluation error would be, rather than crashing the
// session.
func (r *Repl) evalLineWithRecovery(writer io.Writer, m *master.Master, line string) {
	defer func() {
		if recovered := recover(); recovered != nil {
			redColor.Fprintf(writer, "[internal error] %v\n", recovered)
		}
	}()

	v, err := m.Feed(line)
	if err != nil {
		redColor.Fprintf(writer, "%s\n", m.Report(err))
		return
	}
	if _, isNothing := v.(value.Nothing); !isNothing && v != nil {
		yellowColor.Fprintf(writer, "%s\n", v.String())
	}
}
