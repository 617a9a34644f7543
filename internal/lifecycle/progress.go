package lifecycle

import "fmt"

const (
	MinProgress = 0
	MaxProgress = 100
)

// StatusForProgress maps a percentage to the status owning its decile.
// 100 is the only value mapping to Completed.
func StatusForProgress(progress int) (Status, error) {
	if progress < MinProgress || progress > MaxProgress {
		return "", fmt.Errorf("%w: %d", ErrOutOfRange, progress)
	}
	return Ordered[progress/10], nil
}

// MinProgressForStatus returns the decile floor of s, or -1 for unknown labels.
func MinProgressForStatus(s Status) int {
	for i, candidate := range Ordered {
		if candidate == s {
			return i * 10
		}
	}
	return -1
}

// CheckProgress rejects any write that lowers progress.
func CheckProgress(current, next int) error {
	if next < MinProgress || next > MaxProgress {
		return fmt.Errorf("%w: %d", ErrOutOfRange, next)
	}
	if next < current {
		return fmt.Errorf("%w: %d < %d", ErrRegressionRejected, next, current)
	}
	return nil
}

// Consistent reports whether status and progress agree.
func Consistent(status Status, progress int) bool {
	s, err := StatusForProgress(progress)
	return err == nil && s == status
}
