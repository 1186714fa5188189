package history

import (
	"context"
	"sync"
	"time"

	"go-ytdl-host/internal/database"
	"go-ytdl-host/internal/models"
)

// Lock retry defaults for SharedRecorder.
const (
	DefaultLockAttempts = 8
	DefaultLockDelay    = 50 * time.Millisecond
)

// writeMu serialises SharedRecorder writes within one process.
var writeMu sync.Mutex

// SharedRecorder opens the history store for each record and closes it
// again, so several processes can record into the same store. Writers in
// the same process take turns; a lock held by another process is retried
// with backoff.
type SharedRecorder struct {
	DBPath    string
	IndexPath string
	Attempts  int
	Delay     time.Duration
}

// NewSharedRecorder returns a SharedRecorder with the default retry policy.
func NewSharedRecorder(dbPath, indexPath string) SharedRecorder {
	return SharedRecorder{
		DBPath:    dbPath,
		IndexPath: indexPath,
		Attempts:  DefaultLockAttempts,
		Delay:     DefaultLockDelay,
	}
}

// Record stores a terminal job.
func (s SharedRecorder) Record(job models.Job) error {
	writeMu.Lock()
	defer writeMu.Unlock()

	db, err := database.OpenRetry(context.Background(), s.DBPath, s.Attempts, s.Delay)
	if err != nil {
		return err
	}
	defer db.Close()
	return NewRecorder(db, s.IndexPath).Record(job)
}
