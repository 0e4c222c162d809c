// Package master wires a Reader and an eval.State together into a runnable
// program: it feeds source a term at a time, resolves "needs" dependencies
// against a search path, and owns the cache that keeps a module's top-level
// code from re-running every time something else needs it.
package master

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rydesta-lang/rydesta/environment"
	"github.com/rydesta-lang/rydesta/eval"
	"github.com/rydesta-lang/rydesta/lexer"
	"github.com/rydesta-lang/rydesta/parser"
	"github.com/rydesta-lang/rydesta/value"
)

//go:embed boot.ry
var bootSource string

// cachedModule is what MODULE-CACHE remembers about an already-loaded
// dependency: the environment its top-level code left behind, so a
// second "needs" of the same file can reuse it instead of re-running it.
type cachedModule struct {
	env *environment.Env
}

// Master is one running program: its reader, its root evaluation state,
// the directories a bare "needs foo" searches, and the cache that makes
// loading the same module twice idempotent.
type Master struct {
	Filename string
	Reader   *parser.Reader
	State    *eval.State

	cache map[string]*cachedModule
}

// New builds a fresh Master rooted at filename, installs the kernel
// builtins, and feeds the boot script once before any of the caller's
// own source is fed.
func New(filename string) (*Master, error) {
	reader := parser.NewReader()
	state := eval.NewState(filename, reader)
	eval.Kernel(state)
	state.Env.Set("PATH", &value.Str{Value: filepath.Dir(filename)})
	state.Env.Set("MODULE-CACHE", &value.Vec{})

	m := &Master{
		Filename: filename,
		Reader:   reader,
		State:    state,
		cache:    make(map[string]*cachedModule),
	}
	state.ModuleLoader = m.loadNeeds

	if err := m.loadInit(); err != nil {
		return nil, err
	}
	return m, nil
}

// AddSearchPaths appends extra directories to the kernel "PATH" value,
// the way a loaded ".rydestarc.yaml" extends where a bare "needs" looks.
func (m *Master) AddSearchPaths(dirs []string) {
	if len(dirs) == 0 {
		return
	}
	current := m.searchPath(m.State)
	v := &value.Str{Value: strings.Join(append(current, dirs...), ";")}
	m.State.Env.Set("PATH", v)
}

// searchPath reads the user-mutable "PATH" binding out of s.Env — a
// ";"-separated string, per the language's own env-variable surface —
// falling back to the directory the entry file lives in if a capsule
// never inherited one (a "needs" evaluated from inside a function, say).
func (m *Master) searchPath(s *eval.State) []string {
	v, ok := s.Env.Get("PATH")
	str, isStr := v.(*value.Str)
	if !ok || !isStr || str.Value == "" {
		return []string{filepath.Dir(m.Filename)}
	}
	return strings.Split(str.Value, ";")
}

// loadInit feeds the boot script through this Master's own state, the
// same path any other source takes, then records it in the cache under
// the placeholder key "<boot>" (the boot script is embedded, so it has no
// file path a "needs" could resolve to).
func (m *Master) loadInit() error {
	if _, err := m.Feed(bootSource); err != nil {
		return err
	}
	m.cache["<boot>"] = &cachedModule{env: m.State.Env}
	return nil
}

// Feed parses and evaluates source one top-level term at a time, exactly
// the way a REPL line or a whole file is driven: Next hands back zero,
// one, or several nodes, each of which is visited immediately so that a
// later term can already observe grammar or bindings an earlier one
// installed. The value of the last node evaluated is returned.
func (m *Master) Feed(source string) (value.Value, error) {
	return feed(m.Reader, m.State, source)
}

func feed(reader *parser.Reader, state *eval.State, source string) (value.Value, error) {
	reader.Update(source)
	var last value.Value = value.TheNothing
	for {
		nodes, err := reader.Next(lexer.TypeEOF)
		if err != nil {
			return nil, err
		}
		if nodes == nil {
			return last, nil
		}
		for _, node := range nodes {
			v, err := state.VisitTopLevel(node)
			if err != nil {
				return nil, err
			}
			last = v
		}
	}
}

// Report renders err the way a running program tells a user about a
// failure: "<file>:<line>:\n  <kind>: <reason>" for a runtime error or a
// reader (parse) error, or the error's own one-line message for anything
// else.
func (m *Master) Report(err error) string {
	if re, ok := err.(*eval.RuntimeError); ok {
		return fmt.Sprintf("%s:%d:\n  runtime error: %s", re.Filename, re.Line, re.Reason)
	}
	if pe, ok := err.(*parser.ReaderError); ok {
		return fmt.Sprintf("%s:%d:\n  reader error: %s", m.Filename, pe.Line, pe.Reason)
	}
	return err.Error()
}

// loadNeeds is the eval.ModuleLoader this Master installs on its state.
// It resolves modpath to a file under the search path — hidden modules
// are looked up under a leading underscore, e.g. "needs hidden foo"
// searches for "_foo.ry" rather than "foo.ry" — runs it once (caching the
// environment it leaves behind so later needs of the same file are
// free), and binds the result into s: expose flattens every one of its
// bindings straight into s.Env, while the default binds the module under
// its own title-cased base name as a routeable namespace, reached with
// ordinary dot-path access.
func (m *Master) loadNeeds(s *eval.State, modpath string, hidden, expose bool) (bool, error) {
	abs, err := m.resolve(modpath, hidden, s)
	if err != nil {
		return false, nil
	}

	cached, ok := m.cache[abs]
	if !ok {
		source, err := os.ReadFile(abs)
		if err != nil {
			return false, nil
		}

		child := parser.NewReader()
		child.Merge(m.Reader)
		childState := eval.NewState(abs, child)
		childState.ModuleLoader = m.loadNeeds
		eval.Kernel(childState)
		childState.Env.Set("PATH", mustGet(s.Env, "PATH"))

		if _, err := feed(child, childState, string(source)); err != nil {
			return false, err
		}

		m.Reader.Merge(child)
		cached = &cachedModule{env: childState.Env}
		m.cache[abs] = cached
		m.recordCacheEntry(s, abs)
	}

	if expose {
		for _, name := range cached.env.Names() {
			v, _ := cached.env.Get(name)
			s.Env.Set(name, v)
		}
		return true, nil
	}

	s.Env.Set(moduleBaseName(modpath), &eval.Routeable{Name: modpath, Env: cached.env})
	return true, nil
}

// resolve turns a module name into an absolute ".ry" path by trying each
// search directory in turn against "<dir>/[_]<module>.ry".
func (m *Master) resolve(modpath string, hidden bool, s *eval.State) (string, error) {
	candidate := modpath
	if !strings.HasSuffix(candidate, ".ry") {
		candidate += ".ry"
	}
	if hidden {
		candidate = "_" + candidate
	}
	if filepath.IsAbs(candidate) {
		if _, err := os.Stat(candidate); err == nil {
			return filepath.Abs(candidate)
		}
	}
	for _, dir := range m.searchPath(s) {
		full := filepath.Join(dir, candidate)
		if _, err := os.Stat(full); err == nil {
			return filepath.Abs(full)
		}
	}
	return "", fmt.Errorf("%s: no %q on path", m.Filename, modpath)
}

// recordCacheEntry mirrors an absolute module path into the language-level
// "MODULE-CACHE" vector, which every capsule's flat-copied environment
// still sees through the same *value.Vec identity — appending here is
// visible everywhere that value was ever bound, no propagation needed.
func (m *Master) recordCacheEntry(s *eval.State, abs string) {
	v, ok := s.Env.Get("MODULE-CACHE")
	vec, isVec := v.(*value.Vec)
	if !ok || !isVec {
		return
	}
	vec.Items = append(vec.Items, &value.Str{Value: abs})
}

// mustGet returns the bound value of name, or an empty str if it was
// never bound — used to thread "PATH" into a freshly-kernelled module
// state without the caller having to special-case a missing root value.
func mustGet(env *environment.Env, name string) value.Value {
	if v, ok := env.Get(name); ok {
		return v
	}
	return &value.Str{Value: ""}
}

// moduleBaseName mirrors the source implementation's own routeable
// naming: the final "/"-separated component of the needs path, title
// cased, with any ".ry" suffix dropped.
func moduleBaseName(modpath string) string {
	parts := strings.Split(modpath, "/")
	base := strings.TrimSuffix(parts[len(parts)-1], ".ry")
	if base == "" {
		return base
	}
	return strings.ToUpper(base[:1]) + base[1:]
}
