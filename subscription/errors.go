package subscription

import (
	"errors"
	"fmt"
)

var errMissingStatus = errors.New("subscription: delta requires a status")

type invalidStatusError struct {
	status Status
}

func (e *invalidStatusError) Error() string {
	return fmt.Sprintf("subscription: unknown status %q", e.status)
}
