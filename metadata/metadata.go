package metadata

import (
	"fmt"
	"strconv"

	"github.com/ruteri/tf-state-backend/interfaces"
)

// configKeyMaxBackups is the name of the backup depth setting in every store.
const configKeyMaxBackups = "maxBackups"

// insertAttempts bounds the insert/read-back loop when a conflicting record
// disappears between the failed insert and the read of the holder.
const insertAttempts = 3

func validateMaxBackups(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: maxBackups must be a positive number, got %d", interfaces.ErrInvalidConfig, n)
	}
	return nil
}

func parseMaxBackups(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse stored maxBackups %q: %w", raw, err)
	}
	if err := validateMaxBackups(n); err != nil {
		return 0, err
	}
	return n, nil
}
