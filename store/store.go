/*
Package store implements the per-recipient allow-list: one file per
protected recipient holding tab-separated (pattern, method) lines, queried
and mutated under regex-anchored prefix-match semantics (spec.md §4.B).

The bare-domain pattern form is the wildcard: there is deliberately no other
wildcard syntax. A sender "x@example.com" matches both an "x@example.com"
entry and an "example.com" entry; "y@example.com" matches only the latter.
*/
package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/postwhite/postwhite/lalog"
)

// Method is the decision an allow-list entry carries.
type Method string

const (
	// ALLOW lets mail from a matching sender reach the mailbox.
	ALLOW Method = "ALLOW"
	// SWALLOW accepts mail from a matching sender and silently drops it.
	SWALLOW Method = "SWALLOW"
	// DENY is never written to disk; Query returns it to mean "no entry
	// matched", and callers use it as the "currently absent" sentinel when
	// deciding whether Add/Remove may proceed.
	DENY Method = "DENY"
)

// filePerm and dirPerm match the restrictive permissions spec.md §5
// mandates for allow-list files and the directory that holds them.
const (
	filePerm = 0640
	dirPerm  = 0750
)

// Entry is one (pattern, method) pair from a recipient's allow-list.
type Entry struct {
	Pattern string
	Method  Method
}

// Store manages the on-disk allow-list files rooted at Dir (spec.md's
// <config-dir>/<recipient-address> layout).
type Store struct {
	Dir    string
	Logger lalog.Logger

	// fileLocks serializes concurrent rewrites of a single recipient's
	// file; plain appends rely on O_APPEND's OS-level atomicity and do not
	// need to take this lock (spec.md §5, "single-writer-per-file
	// semantics provided by the OS for small appends").
	mu        sync.Mutex
	fileLocks map[string]*sync.Mutex
}

// path returns the allow-list file path for recipient, creating the
// enclosing directory (and, lazily, the file itself) on first touch.
func (s *Store) path(recipient string) (string, error) {
	if err := os.MkdirAll(s.Dir, dirPerm); err != nil {
		return "", fmt.Errorf("store: failed to create config directory: %w", err)
	}
	p := filepath.Join(s.Dir, recipient)
	if _, err := os.Stat(p); os.IsNotExist(err) {
		f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
		if err != nil {
			if !os.IsExist(err) {
				return "", fmt.Errorf("store: failed to create allow-list file: %w", err)
			}
		} else {
			f.Close()
		}
	}
	return p, nil
}

func (s *Store) lockFor(recipient string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fileLocks == nil {
		s.fileLocks = make(map[string]*sync.Mutex)
	}
	l, ok := s.fileLocks[recipient]
	if !ok {
		l = new(sync.Mutex)
		s.fileLocks[recipient] = l
	}
	return l
}

func readEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to read allow-list file: %w", err)
	}
	defer f.Close()
	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		pattern, method, _ := strings.Cut(line, "\t")
		method = strings.TrimSpace(method)
		m := ALLOW
		if method != "" {
			m = Method(strings.ToUpper(method))
		}
		entries = append(entries, Entry{Pattern: pattern, Method: m})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("store: failed to scan allow-list file: %w", err)
	}
	return entries, nil
}

// matchesPattern reports whether pattern, regex-anchored at the start, is a
// prefix of subject. Patterns never contain wildcards of their own; any
// regex metacharacters they happen to contain are escaped so a pattern like
// "a+b.tld" is matched literally.
func matchesPattern(pattern, subject string) bool {
	re, err := regexp.Compile("^" + regexp.QuoteMeta(pattern))
	if err != nil {
		return false
	}
	return re.MatchString(subject)
}

// Query returns the method of the first allow-list entry (in file order)
// whose pattern is a prefix of either senderAddr or senderDomain. DENY
// means no entry matched.
func (s *Store) Query(recipient, senderAddr, senderDomain string) (Method, error) {
	path, err := s.path(recipient)
	if err != nil {
		return DENY, err
	}
	entries, err := readEntries(path)
	if err != nil {
		return DENY, err
	}
	for _, e := range entries {
		if matchesPattern(e.Pattern, senderAddr) || matchesPattern(e.Pattern, senderDomain) {
			s.Logger.Info("Query", recipient, nil, "sender %q matched pattern %q with method %s", senderAddr, e.Pattern, e.Method)
			return e.Method, nil
		}
	}
	return DENY, nil
}

// resolves reports the method that pattern itself would currently resolve
// to, using the same prefix semantics as Query but pinned to pattern rather
// than a live sender address/domain pair (spec.md §4.B).
func (s *Store) resolves(recipient, pattern string) (Method, error) {
	return s.Query(recipient, pattern, pattern)
}

// Add appends one "pattern\tmethod" line to recipient's allow-list, unless
// pattern already resolves to a non-DENY method (idempotent no-op).
func (s *Store) Add(recipient, pattern string, method Method) error {
	current, err := s.resolves(recipient, pattern)
	if err != nil {
		return err
	}
	if current != DENY {
		s.Logger.Info("Add", recipient, nil, "pattern %q already resolves to %s, not adding", pattern, current)
		return nil
	}
	path, err := s.path(recipient)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("store: failed to open allow-list file for append: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s\t%s\n", pattern, method); err != nil {
		return fmt.Errorf("store: failed to append allow-list entry: %w", err)
	}
	s.Logger.Info("Add", recipient, nil, "added pattern %q with method %s", pattern, method)
	return nil
}

// Remove rewrites recipient's allow-list with every line whose pattern
// begins with the given pattern stripped out, unless pattern currently
// resolves to DENY (nothing to remove). The rewrite is atomic: a temporary
// file is written and renamed over the original, so a failure leaves the
// previous list intact (spec.md §7, StoreIOError).
func (s *Store) Remove(recipient, pattern string) error {
	current, err := s.resolves(recipient, pattern)
	if err != nil {
		return err
	}
	if current == DENY {
		return nil
	}
	lock := s.lockFor(recipient)
	lock.Lock()
	defer lock.Unlock()

	path, err := s.path(recipient)
	if err != nil {
		return err
	}
	entries, err := readEntries(path)
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, e := range entries {
		if !strings.HasPrefix(e.Pattern, pattern) {
			kept = append(kept, e)
		}
	}
	if err := rewrite(path, kept); err != nil {
		return err
	}
	s.Logger.Info("Remove", recipient, nil, "removed entries matching pattern prefix %q", pattern)
	return nil
}

// Dump returns the ordered allow-list for recipient.
func (s *Store) Dump(recipient string) ([]Entry, error) {
	path, err := s.path(recipient)
	if err != nil {
		return nil, err
	}
	return readEntries(path)
}

func rewrite(path string, entries []Entry) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("store: failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	writeErr := func() error {
		defer tmp.Close()
		w := bufio.NewWriter(tmp)
		for _, e := range entries {
			if _, err := fmt.Fprintf(w, "%s\t%s\n", e.Pattern, e.Method); err != nil {
				return err
			}
		}
		return w.Flush()
	}()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: failed to write temporary file: %w", writeErr)
	}
	if err := os.Chmod(tmpPath, filePerm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: failed to set permissions on temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: failed to rename temporary file into place: %w", err)
	}
	return nil
}
