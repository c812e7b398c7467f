package projection

import (
	"fmt"

	"github.com/google/uuid"
)

func parseLinkID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("projection: parse id %q: %w", s, err)
	}
	return id, nil
}
