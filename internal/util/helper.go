package util

// CloneSlice returns a copy of src with capacity cloneSize. A cloneSize of
// zero clones src at its own length. The copy never aliases src, so callers
// can hand it across goroutine boundaries without further locking.
func CloneSlice[T any](src []T, cloneSize int) []T {
	if cloneSize == 0 {
		cloneSize = len(src)
	}
	clone := make([]T, cloneSize)
	copy(clone, src)

	return clone
}
