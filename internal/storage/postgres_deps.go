package storage

// This file exists solely to pin transitive dependencies of the pgx driver as
// direct requirements so version bumps surface in module review. The blank
// imports keep the go tool from dropping them when tidying modules.
import (
	_ "golang.org/x/sync/semaphore"
	_ "golang.org/x/text/transform"
)
