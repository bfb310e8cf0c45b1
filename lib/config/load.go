// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/credboot/lib/secret"
)

const (
	// FileName is the config file name next to the executable and
	// under the XDG config directory.
	FileName = "credboot.env"

	// DotFileName is the config file name in the working directory,
	// the project root, and the home directory.
	DotFileName = ".credboot.env"

	// EnvironmentSource is the Source path of values taken from the
	// process environment.
	EnvironmentSource = "environment"

	maxFileSize    = 64 << 10
	maxFileLines   = 1000
	maxAssignments = 32
)

// Sources describes where to look. Empty paths are skipped, except
// ConfigHome, which defaults to the XDG config home.
type Sources struct {
	// Explicit is the --config path. Unlike discovered files, a
	// missing explicit file is an error.
	Explicit string

	// Environ is the process environment as KEY=value pairs.
	Environ []string

	// Executable is the path of the running binary.
	Executable string

	// WorkDir is the working directory. The project root is found by
	// walking up from it.
	WorkDir string

	ConfigHome string
	Home       string

	// UID is the user expected to own config files.
	UID int
}

// DefaultSources fills Sources from the running process.
func DefaultSources(explicit string) Sources {
	sources := Sources{
		Explicit:   explicit,
		Environ:    os.Environ(),
		ConfigHome: xdg.ConfigHome,
		Home:       xdg.Home,
		UID:        os.Getuid(),
	}
	if executable, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(executable); err == nil {
			executable = resolved
		}
		sources.Executable = executable
	}
	if workdir, err := os.Getwd(); err == nil {
		sources.WorkDir = workdir
	}
	return sources
}

// Candidate is one file to try, in precedence order.
type Candidate struct {
	Path   string
	Rank   int
	Origin string
}

// Candidates returns the config files to try, highest precedence
// first, with duplicates removed. Rank 0 is reserved for the
// environment.
func (s Sources) Candidates() []Candidate {
	type entry struct{ path, origin string }
	var entries []entry
	if s.Explicit != "" {
		entries = append(entries, entry{s.Explicit, "flag"})
	}
	if s.Executable != "" {
		entries = append(entries, entry{filepath.Join(filepath.Dir(s.Executable), FileName), "colocated"})
	}
	if s.WorkDir != "" {
		entries = append(entries, entry{filepath.Join(s.WorkDir, DotFileName), "workspace"})
		if root := ProjectRoot(s.WorkDir); root != "" {
			entries = append(entries, entry{filepath.Join(root, DotFileName), "project"})
		}
	}
	configHome := s.ConfigHome
	if configHome == "" {
		configHome = xdg.ConfigHome
	}
	if configHome != "" {
		entries = append(entries, entry{filepath.Join(configHome, "credboot", FileName), "xdg"})
	}
	if s.Home != "" {
		entries = append(entries, entry{filepath.Join(s.Home, DotFileName), "home"})
	}

	seen := make(map[string]bool, len(entries))
	candidates := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		path := filepath.Clean(e.path)
		if seen[path] {
			continue
		}
		seen[path] = true
		candidates = append(candidates, Candidate{Path: path, Rank: len(candidates) + 1, Origin: e.origin})
	}
	return candidates
}

// ProjectRoot walks up from dir to the nearest directory containing
// .git (a directory, or a file for worktrees). Returns "" when there
// is none.
func ProjectRoot(dir string) string {
	dir = filepath.Clean(dir)
	for {
		if _, err := os.Lstat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Load reads every source. Only a missing or unreadable explicit file
// is an error; problems with discovered files become warnings.
func Load(sources Sources, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	config := &Config{values: make(map[string]*Value)}
	loader := &loader{config: config, logger: logger, uid: sources.UID}

	for _, pair := range sources.Environ {
		key, value, ok := strings.Cut(pair, "=")
		if _, known := allowed[key]; !ok || !known || value == "" {
			continue
		}
		loader.assign(key, EnvironmentSource, 0, []byte(value))
	}

	for _, candidate := range sources.Candidates() {
		err := loader.loadFile(candidate)
		if err == nil {
			continue
		}
		if candidate.Origin == "flag" {
			config.Close()
			return nil, fmt.Errorf("loading config %s: %w", candidate.Path, err)
		}
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug("config candidate absent", "path", candidate.Path)
			continue
		}
		config.warn(logger, Warning{Path: candidate.Path, Message: err.Error()})
	}

	logger.Debug("configuration loaded", "config", config)
	return config, nil
}

type loader struct {
	config      *Config
	logger      *slog.Logger
	uid         int
	assignments int
	capWarned   bool
}

// loadFile checks and parses one candidate. Returns os.ErrNotExist
// (wrapped) for an absent file; security rejections are recorded as
// warnings and return nil.
func (l *loader) loadFile(candidate Candidate) error {
	fd, err := unix.Open(candidate.Path, unix.O_RDONLY|unix.O_NOFOLLOW|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if errors.Is(err, unix.ENOENT) {
		return os.ErrNotExist
	}
	if errors.Is(err, unix.ELOOP) {
		l.config.warn(l.logger, Warning{Path: candidate.Path, Message: "is a symlink", Security: true})
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening: %w", err)
	}
	file := os.NewFile(uintptr(fd), candidate.Path)
	defer file.Close()

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	if stat.Mode&unix.S_IFMT != unix.S_IFREG {
		l.config.warn(l.logger, Warning{Path: candidate.Path, Message: "not a regular file", Security: true})
		return nil
	}
	if stat.Mode&0o022 != 0 {
		l.config.warn(l.logger, Warning{
			Path:     candidate.Path,
			Message:  fmt.Sprintf("mode %04o is group- or world-writable", stat.Mode&0o7777),
			Security: true,
		})
		return nil
	}
	if stat.Mode&0o044 != 0 {
		l.config.warn(l.logger, Warning{Path: candidate.Path, Message: fmt.Sprintf("mode %04o is readable by other users; chmod 600 recommended", stat.Mode&0o777)})
	}
	if int(stat.Uid) != l.uid && stat.Uid != 0 {
		l.config.warn(l.logger, Warning{Path: candidate.Path, Message: fmt.Sprintf("owned by uid %d, not the current user", stat.Uid)})
	}
	if stat.Size > maxFileSize {
		l.config.warn(l.logger, Warning{Path: candidate.Path, Message: fmt.Sprintf("size %d exceeds the %d byte limit", stat.Size, maxFileSize)})
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(file, maxFileSize+1))
	defer secret.Zero(data)
	if err != nil {
		return fmt.Errorf("reading: %w", err)
	}
	if len(data) > maxFileSize {
		l.config.warn(l.logger, Warning{Path: candidate.Path, Message: "grew past the size limit while reading"})
		return nil
	}
	l.parse(candidate, data)
	return nil
}

// parse applies KEY=value lines from data. Values are sliced from data
// without copying into strings, so secret values only ever live in
// data (zeroed by the caller) and their protected buffer.
func (l *loader) parse(candidate Candidate, data []byte) {
	lineNumber := 0
	for len(data) > 0 {
		var line []byte
		line, data, _ = bytes.Cut(data, []byte{'\n'})
		lineNumber++
		if lineNumber > maxFileLines {
			l.config.warn(l.logger, Warning{Path: candidate.Path, Message: fmt.Sprintf("lines after %d ignored", maxFileLines)})
			return
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		line = bytes.TrimSpace(trimExport(line))
		index := bytes.IndexByte(line, '=')
		if index <= 0 {
			l.config.warn(l.logger, Warning{Path: candidate.Path, Message: fmt.Sprintf("line %d is not KEY=value", lineNumber)})
			continue
		}
		key := string(bytes.TrimSpace(line[:index]))
		if _, ok := allowed[key]; !ok {
			l.config.warn(l.logger, Warning{Path: candidate.Path, Message: fmt.Sprintf("line %d: key %q is not recognized", lineNumber, key)})
			continue
		}
		value := unquote(bytes.TrimSpace(line[index+1:]))
		if len(value) == 0 {
			l.config.warn(l.logger, Warning{Path: candidate.Path, Message: fmt.Sprintf("line %d: %s has an empty value", lineNumber, key)})
			continue
		}
		if !l.assign(key, candidate.Path, candidate.Rank, value) {
			return
		}
	}
}

// assign counts a recognized assignment and records it. Returns false
// once the assignment cap is reached.
func (l *loader) assign(key, source string, rank int, raw []byte) bool {
	if l.assignments >= maxAssignments {
		if !l.capWarned {
			l.capWarned = true
			l.config.warn(l.logger, Warning{Path: source, Message: fmt.Sprintf("more than %d assignments; the rest are ignored", maxAssignments)})
		}
		return false
	}
	l.assignments++
	if l.config.Has(key) {
		l.logger.Debug("config key shadowed", "key", key, "source", source)
		return true
	}
	value, err := newValue(key, source, rank, raw)
	if err != nil {
		l.config.warn(l.logger, Warning{Path: source, Message: err.Error()})
		return true
	}
	l.config.set(value)
	return true
}

func trimExport(line []byte) []byte {
	if rest, ok := bytes.CutPrefix(line, []byte("export")); ok && len(rest) > 0 && (rest[0] == ' ' || rest[0] == '\t') {
		return rest
	}
	return line
}

// unquote strips one pair of matching single or double quotes.
func unquote(value []byte) []byte {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' || first == '\'') && first == last {
			return value[1 : len(value)-1]
		}
	}
	return value
}
