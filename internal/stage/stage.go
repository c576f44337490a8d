// Package stage implements the scoped temporary-file acquisition primitive
// design note §9 ("Scoped temporaries") asks for: a single helper that
// guarantees cleanup on every exit path, including a panic, replacing the
// repeated mkstemp/unlink-on-every-branch pattern the original source used.
package stage

import (
	"os"
)

// File is a temporary file acquired under a scope. Close removes the file
// unless Keep has been called.
type File struct {
	*os.File
	keep bool
}

// Acquire creates a new temporary file under dir with the given name
// pattern (os.CreateTemp semantics). Callers must `defer f.Close()`
// immediately; Close both closes the descriptor and removes the file
// unless Keep was called first.
func Acquire(dir, pattern string) (*File, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	return &File{File: f}, nil
}

// Keep marks the file to survive Close — used once a parser has decided
// the staged file is actually the artifact it wants to keep (e.g. after
// moving/renaming it into the output directory, or when the staging file
// itself IS the final artifact path).
func (f *File) Keep() { f.keep = true }

// Close closes the underlying descriptor and, unless Keep was called,
// removes the file from disk. It is safe to call multiple times.
func (f *File) Close() error {
	name := f.File.Name()
	cerr := f.File.Close()
	if f.keep {
		return cerr
	}
	if rerr := os.Remove(name); rerr != nil && !os.IsNotExist(rerr) {
		if cerr == nil {
			return rerr
		}
	}
	return cerr
}

// Scope runs fn with a fresh temporary file, always cleaning it up
// afterward regardless of how fn returns (error, panic, or success),
// unless fn calls f.Keep().
func Scope(dir, pattern string, fn func(f *File) error) error {
	f, err := Acquire(dir, pattern)
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(f)
}
