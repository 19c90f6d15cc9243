// Package storage persists pipeline artifacts: columnar (parquet) row files
// for batches and datasets, and JSON/gob blobs for fitted model parameters.
//
// Two properties hold for every artifact:
//
//   - Writes are atomic. Data goes to a temporary file that is renamed into
//     place on success, so an artifact that exists is always complete. This
//     is also what makes stage resumption safe: existence equals validity.
//   - I/O is retried with bounded exponential backoff. When retries exhaust,
//     the error surfaces as *ArtifactError and the caller decides whether the
//     batch is skippable.
package storage

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/parquet-go/parquet-go"
)

// ArtifactError reports an artifact read or write that failed after retries.
type ArtifactError struct {
	Artifact string
	Op       string
	Err      error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("artifact %s: %s failed: %v", e.Artifact, e.Op, e.Err)
}

func (e *ArtifactError) Unwrap() error { return e.Err }

// Store is a directory-backed artifact store.
type Store struct {
	dir    string
	logger *slog.Logger

	// maxElapsed bounds the total time spent retrying one operation.
	maxElapsed time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithRetryBudget bounds backoff retries per operation.
func WithRetryBudget(d time.Duration) Option {
	return func(s *Store) { s.maxElapsed = d }
}

// New creates the artifact directory if needed.
func New(dir string, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		dir:        dir,
		logger:     logger,
		maxElapsed: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return s, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the absolute path of a named artifact.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Exists reports whether a complete artifact with this name exists.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// retry runs op under the store's backoff policy.
func (s *Store) retry(name, opName string, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.maxElapsed

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := op(); err != nil {
			s.logger.Warn("artifact operation failed, retrying",
				"artifact", name,
				"op", opName,
				"attempt", attempt,
				"error", err,
			)
			return err
		}
		return nil
	}, bo)
	if err != nil {
		return &ArtifactError{Artifact: name, Op: opName, Err: err}
	}
	return nil
}

// WriteRows writes rows as one parquet artifact, atomically and with retry.
func WriteRows[T any](s *Store, name string, rows []T) error {
	return s.retry(name, "write", func() error {
		tmp := s.Path(name + ".tmp")
		if err := parquet.WriteFile(tmp, rows); err != nil {
			os.Remove(tmp)
			return err
		}
		return os.Rename(tmp, s.Path(name))
	})
}

// ReadRows reads a parquet artifact written by WriteRows or an Appender.
func ReadRows[T any](s *Store, name string) ([]T, error) {
	var rows []T
	err := s.retry(name, "read", func() error {
		var err error
		rows, err = parquet.ReadFile[T](s.Path(name))
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// WriteJSON writes v as a JSON artifact, atomically and with retry.
func (s *Store) WriteJSON(name string, v any) error {
	return s.retry(name, "write", func() error {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return backoff.Permanent(err)
		}
		return s.writeFileAtomic(name, data)
	})
}

// ReadJSON reads a JSON artifact into v.
func (s *Store) ReadJSON(name string, v any) error {
	return s.retry(name, "read", func() error {
		data, err := os.ReadFile(s.Path(name))
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, v); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	})
}

// WriteGob writes v as a gob artifact, atomically and with retry. Used for
// model parameters that do not serialize naturally to JSON.
func (s *Store) WriteGob(name string, v any) error {
	return s.retry(name, "write", func() error {
		tmp := s.Path(name + ".tmp")
		f, err := os.Create(tmp)
		if err != nil {
			return err
		}
		if err := gob.NewEncoder(f).Encode(v); err != nil {
			f.Close()
			os.Remove(tmp)
			return backoff.Permanent(err)
		}
		if err := f.Close(); err != nil {
			os.Remove(tmp)
			return err
		}
		return os.Rename(tmp, s.Path(name))
	})
}

// ReadGob reads a gob artifact into v.
func (s *Store) ReadGob(name string, v any) error {
	return s.retry(name, "read", func() error {
		f, err := os.Open(s.Path(name))
		if err != nil {
			return err
		}
		defer f.Close()
		if err := gob.NewDecoder(f).Decode(v); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	})
}

func (s *Store) writeFileAtomic(name string, data []byte) error {
	tmp := s.Path(name + ".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.Path(name))
}
