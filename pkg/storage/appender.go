package storage

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"
)

// Appender builds one parquet artifact incrementally, one row group per
// Append call, so each appended batch lands as an atomic unit. The artifact
// stays invisible (a temporary file) until Close renames it into place; an
// abandoned append never leaves a partial artifact behind.
//
// An Appender has a single owner; serialize upstream parallelism through one
// writer.
type Appender[T any] struct {
	store *Store
	name  string
	file  *os.File
	w     *parquet.GenericWriter[T]

	rows int
}

// NewAppender opens a new appendable artifact.
func NewAppender[T any](s *Store, name string) (*Appender[T], error) {
	f, err := os.Create(s.Path(name + ".tmp"))
	if err != nil {
		return nil, &ArtifactError{Artifact: name, Op: "create", Err: err}
	}
	return &Appender[T]{
		store: s,
		name:  name,
		file:  f,
		w:     parquet.NewGenericWriter[T](f),
	}, nil
}

// Append writes one batch of rows and closes the row group, making the batch
// a single unit in the artifact.
func (a *Appender[T]) Append(rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	if _, err := a.w.Write(rows); err != nil {
		return &ArtifactError{Artifact: a.name, Op: "append", Err: err}
	}
	if err := a.w.Flush(); err != nil {
		return &ArtifactError{Artifact: a.name, Op: "append", Err: err}
	}
	a.rows += len(rows)
	return nil
}

// Rows reports how many rows have been appended.
func (a *Appender[T]) Rows() int { return a.rows }

// Close finalizes the parquet footer and renames the artifact into place.
func (a *Appender[T]) Close() error {
	if err := a.w.Close(); err != nil {
		a.file.Close()
		return &ArtifactError{Artifact: a.name, Op: "close", Err: err}
	}
	if err := a.file.Close(); err != nil {
		return &ArtifactError{Artifact: a.name, Op: "close", Err: err}
	}
	if err := os.Rename(a.store.Path(a.name+".tmp"), a.store.Path(a.name)); err != nil {
		return &ArtifactError{Artifact: a.name, Op: "close", Err: err}
	}
	a.store.logger.Debug("artifact finalized", "artifact", a.name, "rows", a.rows)
	return nil
}

// Abort discards the artifact without publishing it.
func (a *Appender[T]) Abort() error {
	a.file.Close()
	if err := os.Remove(a.store.Path(a.name + ".tmp")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("abort %s: %w", a.name, err)
	}
	return nil
}
