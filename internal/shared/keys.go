package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict means the stored version moved since it was read.
	ErrVersionConflict = errors.New("version conflict")
)

// ConsolLockKey is the redis key that serialises translation runs for one
// group period.
func ConsolLockKey(groupID int64, period string) string {
	return fmt.Sprintf("consol:group:%d:period:%s:lock", groupID, period)
}
