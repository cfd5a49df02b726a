package submission

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/database"
)

// OpenStore builds the pending store selected by cfg.PendingBackend. The
// returned close func releases any connection it opened.
func OpenStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (PendingStore, func() error, error) {
	switch cfg.PendingBackend {
	case config.PendingBackendRedis:
		rdb, err := database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis pending store: %w", err)
		}
		return NewRedisStore(rdb, log), rdb.Close, nil
	default:
		return NewFileStore(cfg.BackupDir, log), func() error { return nil }, nil
	}
}
