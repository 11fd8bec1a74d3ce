/*
Package spool implements the learning-mode marker: a zero-length file per
recipient in the spool directory whose modification time records the moment
learning began (spec.md §4.C). Staleness is checked lazily, on every query,
by comparing the marker's mtime against the learning period; there is no
background reaper, since one would race a user's in-flight allow or deny
that expects the marker to still be on disk for EndLearning to remove
(spec.md §9 "Learning expiry reaper").
*/
package spool

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/postwhite/postwhite/lalog"
)

const (
	filePerm = 0640
	dirPerm  = 0750
)

// Spool manages learning-mode markers rooted at Dir, with staleness judged
// against Period.
type Spool struct {
	Dir    string
	Period time.Duration
	Logger lalog.Logger
}

func (s *Spool) markerPath(recipient string) string {
	return filepath.Join(s.Dir, recipient)
}

// IsLearning reports whether recipient's marker exists and is younger than
// Period. A stale marker is treated as absent, but is not removed here.
func (s *Spool) IsLearning(recipient string) (bool, error) {
	info, err := os.Stat(s.markerPath(recipient))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("spool: failed to stat learning marker: %w", err)
	}
	return time.Since(info.ModTime()) < s.Period, nil
}

// BeginLearning creates recipient's marker, or refreshes its mtime to now if
// it already exists, restarting the learning window (spec.md §4.C).
func (s *Spool) BeginLearning(recipient string) error {
	if err := os.MkdirAll(s.Dir, dirPerm); err != nil {
		return fmt.Errorf("spool: failed to create spool directory: %w", err)
	}
	path := s.markerPath(recipient)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("spool: failed to create learning marker: %w", err)
	}
	f.Close()
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("spool: failed to refresh learning marker: %w", err)
	}
	s.Logger.Info("BeginLearning", recipient, nil, "learning window opened")
	return nil
}

// EndLearning removes recipient's marker. It never fails when the marker is
// already absent (spec.md §4.C).
func (s *Spool) EndLearning(recipient string) error {
	err := os.Remove(s.markerPath(recipient))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("spool: failed to remove learning marker: %w", err)
	}
	s.Logger.Info("EndLearning", recipient, nil, "learning window closed")
	return nil
}
