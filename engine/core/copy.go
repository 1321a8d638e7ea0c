package core

import (
	"fmt"

	"github.com/mohae/deepcopy"
)

// DeepCopy returns a deep copy of v.
func DeepCopy[T any](v T) (T, error) {
	var zero T
	copied, ok := deepcopy.Copy(v).(T)
	if !ok {
		return zero, fmt.Errorf("failed to deep copy value of type %T", v)
	}
	return copied, nil
}

// CopyMap deep-copies m. Nil stays nil.
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	copied, err := DeepCopy(m)
	if err != nil {
		shallow := make(map[string]any, len(m))
		for k, v := range m {
			shallow[k] = v
		}
		return shallow
	}
	return copied
}

// CopyMaps merges the given maps into a new map; later maps win.
func CopyMaps(maps ...map[string]any) map[string]any {
	result := make(map[string]any)
	for _, m := range maps {
		for k, v := range CopyMap(m) {
			result[k] = v
		}
	}
	return result
}
