package domain

import "fmt"

// ValidateConflictStrategy validates a conflict strategy value.
func ValidateConflictStrategy(s string) error {
	switch ConflictStrategy(s) {
	case ConflictSkip, ConflictOverwrite, ConflictRename:
		return nil
	default:
		return fmt.Errorf("invalid conflict strategy: must be one of: skip, overwrite, rename")
	}
}
