// Package publish pushes analysis artifacts to a version-controlled dataset
// repository. The pipeline treats extraction as complete only once this push
// succeeds.
package publish

import "context"

// Publisher commits content at path and returns the commit id.
type Publisher interface {
	Push(ctx context.Context, path string, content []byte, message string) (string, error)
}
