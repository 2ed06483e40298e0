package cli

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/mvp-joe/cortex-index/internal/fsutil"
	"github.com/mvp-joe/cortex-index/internal/indexer"
	"github.com/mvp-joe/cortex-index/internal/lock"
	"github.com/mvp-joe/cortex-index/internal/status"
)

const (
	autoIndexCooldown = 2 * time.Second
	autoIndexEnv      = "CORTEX_DISABLE_AUTO_INDEX"
)

func autoIndexDisabled() bool {
	v := strings.TrimSpace(os.Getenv(autoIndexEnv))
	return v == "1" || strings.EqualFold(v, "true")
}

// stampFresh reports whether the stamp at path was touched within the cooldown.
func stampFresh(path string, now time.Time) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime()) < autoIndexCooldown
}

func touchStamp(path string) error {
	return fsutil.WriteFileAtomic(path, []byte(time.Now().UTC().Format(time.RFC3339Nano)+"\n"), 0644)
}

// maybeAutoIndex brings the index up to date before a read. Failures are
// logged; the read proceeds against whatever is committed.
func maybeAutoIndex(ctx context.Context, s *session) {
	if autoIndexDisabled() {
		return
	}
	log := s.log()
	stamp := s.layout.AutoIndexStamp()

	gen, err := s.layout.CurrentGeneration()
	if err != nil {
		log.Debug().Err(err).Msg("auto-index skipped")
		return
	}
	if gen != "" {
		if stampFresh(stamp, time.Now()) {
			return
		}
		// Somebody else is already on it.
		if rec, err := status.Read(s.layout); err == nil && rec.Phase.InProgress() {
			_ = touchStamp(stamp)
			return
		}
	}

	mode, err := s.reuseMode("")
	if err != nil {
		log.Warn().Err(err).Msg("auto-index skipped")
		return
	}
	_, err = s.newIndexer().Index(ctx, indexer.Request{ReuseMode: mode}, nil)
	switch {
	case err == nil, errors.Is(err, lock.ErrBuildInProgress):
		if err := touchStamp(stamp); err != nil {
			log.Debug().Err(err).Msg("failed to write auto-index stamp")
		}
	default:
		log.Warn().Err(err).Msg("auto-index failed")
	}
}
