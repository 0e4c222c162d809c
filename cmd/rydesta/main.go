// Command rydesta runs, REPLs, and tests Rydesta programs.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/rydesta-lang/rydesta/config"
	"github.com/rydesta-lang/rydesta/master"
	"github.com/rydesta-lang/rydesta/repl"
)

var (
	flagTime  bool
	flagWatch bool
	cfg       *config.Config
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if err != errSilent {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rydesta [script]",
		Short: "Run, REPL, or test Rydesta programs",
		Args:  cobra.MaximumNArgs(1),
		// main prints errors itself, so cobra's own error and usage
		// output would only duplicate it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
		RunE: runScriptOrRepl,
	}
	root.PersistentFlags().BoolVarP(&flagTime, "time", "t", false, "print bootstrap and per-feed wall times")
	root.PersistentFlags().BoolVar(&flagWatch, "watch", false, "re-run the script whenever it changes on disk")

	root.AddCommand(newReplCmd())
	root.AddCommand(newSuiteCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newDocsCmd(root))
	return root
}

func runScriptOrRepl(cmd *cobra.Command, args []string) error {
	applyConfigDefaults()
	if len(args) == 0 {
		return runRepl(cmd, nil)
	}
	return runScript(args[0])
}

// applyConfigDefaults lets an unset "-t/--watch" flag fall back to
// whatever ".rydestarc.yaml" asked for, without overriding a flag the
// user passed explicitly.
func applyConfigDefaults() {
	if cfg == nil {
		return
	}
	if !flagTime && cfg.Time {
		flagTime = true
	}
	if !flagWatch && cfg.Watch {
		flagWatch = true
	}
}

func runScript(path string) error {
	run := func() error {
		timer := newTimer(flagTime)
		m, err := master.New(path)
		if err != nil {
			return err
		}
		timer.mark("bootstrap")
		applySearchPaths(m)

		source, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, err := m.Feed(string(source)); err != nil {
			fmt.Fprintln(os.Stderr, m.Report(err))
			timer.report(os.Stderr)
			return errSilent
		}
		timer.mark("feed")
		timer.report(os.Stderr)
		return nil
	}

	if !flagWatch {
		return run()
	}
	return watchAndRerun(path, run)
}

// errSilent signals a reported-already failure to main, which should
// exit nonzero without printing anything further.
var errSilent = fmt.Errorf("")

func watchAndRerun(path string, run func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	_ = run()
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) == filepath.Clean(path) && event.Has(fsnotify.Write) {
				slog.Info("script changed, re-running", "path", path)
				_ = run()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("watch error", "error", err)
		}
	}
}

func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive Rydesta session",
		RunE:  runRepl,
	}
}

func runRepl(cmd *cobra.Command, args []string) error {
	applyConfigDefaults()
	m, err := master.New(".")
	if err != nil {
		return err
	}
	applySearchPaths(m)

	prompt := "rydesta> "
	if cfg != nil && cfg.Prompt != "" {
		prompt = cfg.Prompt
	}
	banner := "Rydesta"
	if cfg != nil && cfg.Banner != "" {
		banner = cfg.Banner
	}

	session := repl.NewRepl(banner, version, rule, prompt)
	return session.Start(os.Stdout, m)
}

func newSuiteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suite [dir]",
		Short: "Evaluate every suite/[0-9]*.ry file in sorted order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "suite"
			if len(args) == 1 {
				dir = args[0]
			}
			return runSuite(dir)
		},
	}
}

func runSuite(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "[0-9]*.ry"))
	if err != nil {
		return err
	}
	sort.Strings(matches)

	failed := false
	for _, path := range matches {
		m, err := master.New(path)
		if err != nil {
			return err
		}
		applySearchPaths(m)
		source, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, err := m.Feed(string(source)); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s\n", path, m.Report(err))
			failed = true
			continue
		}
		fmt.Println(path, "ok")
	}
	if failed {
		return errSilent
	}
	return nil
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a websocket REPL",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":4545", "address to listen on")
	return cmd
}

func newDocsCmd(root *cobra.Command) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:    "docs",
		Short:  "Generate man pages for this CLI",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			header := &doc.GenManHeader{Title: "RYDESTA", Section: "1"}
			return doc.GenManTree(root, header, outDir)
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "./man", "output directory for generated man pages")
	return cmd
}

func runServe(addr string) error {
	srv := repl.NewServer("ws-session.ry")
	slog.Info("serving websocket REPL", "addr", addr)
	return http.ListenAndServe(addr, srv)
}

func applySearchPaths(m *master.Master) {
	if cfg != nil && len(cfg.Path) > 0 {
		m.AddSearchPaths(cfg.Path)
	}
}

const (
	version = "0.1.0"
	rule    = "--------------------------------------------------------------"
)
