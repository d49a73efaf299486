package streamstate

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Library maps item ids to playable media.
type Library interface {
	MediaPath(itemID string) (string, error)
}

// ConfigLibrary is a static library loaded from configuration.
type ConfigLibrary map[string]string

func (l ConfigLibrary) MediaPath(itemID string) (string, error) {
	id, err := uuid.Parse(itemID)
	if err != nil {
		return "", fmt.Errorf("%w: item id %q", ErrInvalidRequest, itemID)
	}

	// keys may be written with or without dashes
	for key, path := range l {
		keyID, err := uuid.Parse(key)
		if err == nil && keyID == id {
			return path, nil
		}
		if strings.EqualFold(key, itemID) {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
}
