package resolver

import (
	"errors"
	"fmt"

	"torrentstream/streamfs/internal/domain"
)

var (
	ErrResolution          = errors.New("resolution failed")
	ErrUnsupportedResponse = errors.New("unsupported feed response")
	ErrMetadataTimeout     = fmt.Errorf("metadata join: %w", domain.ErrTimeout)
)

func wrapResolution(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrResolution) || errors.Is(err, ErrMetadataTimeout) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrResolution, err)
}
