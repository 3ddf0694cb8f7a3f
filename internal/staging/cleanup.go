package staging

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Deleter is the part of an Area cleanup needs.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Cleanup deletes every key, logging and collecting failures instead of
// stopping at the first one.
func Cleanup(ctx context.Context, d Deleter, keys ...string) error {
	var errs []string
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := d.Delete(ctx, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Cleanup failed")
			errs = append(errs, fmt.Sprintf("delete %q: %v", key, err))
			continue
		}
		log.Debug().Str("key", key).Msg("Staging file removed")
	}
	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %s", strings.Join(errs, " | "))
	}
	return nil
}
