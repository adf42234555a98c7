package grove

import (
	"errors"
	"fmt"
	"strings"
)

// PathErrorKind names the three ways a lookup can find nothing.
type PathErrorKind string

const (
	// PathNotFound means the layer named by the path does not exist.
	PathNotFound PathErrorKind = "PATH_NOT_FOUND"
	// PathKeyNotFound means the layer exists but the key does not.
	PathKeyNotFound PathErrorKind = "PATH_KEY_NOT_FOUND"
	// PathParentLayerNotFound means an ancestor of the layer is missing.
	PathParentLayerNotFound PathErrorKind = "PATH_PARENT_LAYER_NOT_FOUND"
)

// PathError reports an absent path or key.
type PathError struct {
	Kind PathErrorKind
	Path [][]byte
	Key  []byte
}

func (e *PathError) Error() string {
	segs := make([]string, len(e.Path))
	for i, s := range e.Path {
		segs[i] = fmt.Sprintf("%x", s)
	}
	if e.Kind == PathKeyNotFound {
		return fmt.Sprintf("%s: key %x at [%s]", e.Kind, e.Key, strings.Join(segs, "/"))
	}
	return fmt.Sprintf("%s: [%s]", e.Kind, strings.Join(segs, "/"))
}

// IsAbsence reports whether err is any of the three absence errors.
func IsAbsence(err error) bool {
	var pe *PathError
	return errors.As(err, &pe)
}

// IsPathErrorKind reports whether err is a PathError of the given kind.
func IsPathErrorKind(err error, kind PathErrorKind) bool {
	var pe *PathError
	return errors.As(err, &pe) && pe.Kind == kind
}

// CorruptedError reports stored data that violates the tree's invariants.
type CorruptedError struct {
	Message string
}

func (e *CorruptedError) Error() string {
	return "corrupted tree: " + e.Message
}

// IsCorrupted reports whether err is a CorruptedError.
func IsCorrupted(err error) bool {
	var ce *CorruptedError
	return errors.As(err, &ce)
}

// ErrTreeNotEmpty is returned when deleting a tree that still has entries.
var ErrTreeNotEmpty = errors.New("grove: tree is not empty")

// ErrOverwriteTree is returned when replacing a tree with a non-tree element
// or a non-tree with a tree.
var ErrOverwriteTree = errors.New("grove: cannot change the kind of an existing tree element")

// ErrInvalidProof is returned when a proof does not verify.
var ErrInvalidProof = errors.New("grove: invalid proof")
