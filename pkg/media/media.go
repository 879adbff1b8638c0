// Package media stores the audio artifacts a survey call produces: the raw
// answer recordings fetched from the telephony gateway and the synthesized
// English audio the pipeline emits. It abstracts the backend so deployments
// can keep artifacts on local disk or in an S3-compatible object store
// without changing application code.
//
// Paths are forward-slash separated and relative to the store root, e.g.
// "recordings/<sessionID>/q2.wav".
package media

import (
	"bytes"
	"context"
	"io"
)

// Store is a minimal blob store for audio artifacts.
// Implementations must be safe for concurrent use.
type Store interface {
	// Open opens the named artifact for reading. If it does not exist,
	// an error wrapping os.ErrNotExist is returned. The caller must
	// close the returned ReadCloser.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Put writes the artifact, reading r to completion. An existing
	// artifact at the same path is replaced.
	Put(ctx context.Context, path string, r io.Reader) error

	// Delete removes the named artifact. Deleting a missing artifact
	// is a no-op.
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named artifact exists.
	Exists(ctx context.Context, path string) (bool, error)
}

// PutBytes writes b as the artifact at path.
func PutBytes(ctx context.Context, s Store, path string, b []byte) error {
	return s.Put(ctx, path, bytes.NewReader(b))
}

// ReadAll reads the full artifact at path.
func ReadAll(ctx context.Context, s Store, path string) ([]byte, error) {
	rc, err := s.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
