package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewJobID returns <unix-millis>-<9 random chars>. The millisecond prefix
// makes lexicographic order follow submission order.
func NewJobID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}

// ValidateID rejects ids that could escape a stage directory or collide with
// the temp and sidecar naming.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidJobID)
	case strings.ContainsAny(id, `/\`) || strings.Contains(id, ".."):
		return fmt.Errorf("%w: %q", ErrInvalidJobID, id)
	case strings.Contains(id, tmpInfix) || strings.HasSuffix(id, ".error"):
		return fmt.Errorf("%w: %q", ErrInvalidJobID, id)
	}
	return nil
}
