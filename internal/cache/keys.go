package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func SnapshotStatusKey(snapshotID uuid.UUID) string {
	return fmt.Sprintf("snapshot:%s", snapshotID)
}

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func LatestInventoryKey(userID uuid.UUID) string {
	return fmt.Sprintf("inventory:latest:%s", userID)
}
