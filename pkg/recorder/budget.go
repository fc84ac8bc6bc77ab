package recorder

import (
	"sync/atomic"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"github.com/slimtoolkit/emd/pkg/consts"
	"github.com/slimtoolkit/emd/pkg/util/fsutil"
)

// Budget is the byte allowance shared by every file of a trace session.
type Budget struct {
	limit     int64
	used      atomic.Int64
	exhausted atomic.Bool
}

func NewBudget(limit int64) *Budget {
	return &Budget{limit: limit}
}

// Reserve claims n bytes. Once a reservation fails every later one fails too.
func (b *Budget) Reserve(n int64) bool {
	if b.exhausted.Load() {
		return false
	}

	if b.used.Add(n) > b.limit {
		b.used.Add(-n)
		b.exhausted.Store(true)
		return false
	}

	return true
}

func (b *Budget) Used() int64 {
	return b.used.Load()
}

func (b *Budget) Limit() int64 {
	return b.limit
}

func (b *Budget) Exhausted() bool {
	return b.exhausted.Load()
}

// ClampDumpBytes limits max so that MinReservedSpace stays free on both
// the scratch file system and the dump file system.
func ClampDumpBytes(max, freeTmp, freeDump int64) int64 {
	avail := freeTmp
	if freeDump < avail {
		avail = freeDump
	}

	avail -= consts.MinReservedSpace
	if avail <= 0 || max <= 0 {
		return 0
	}

	if max > avail {
		return avail
	}

	return max
}

// DiskLimit applies ClampDumpBytes to the free space of /tmp and dumpDir.
func DiskLimit(max int64, dumpDir string) (int64, error) {
	freeTmp, err := fsutil.FreeSpace("/tmp")
	if err != nil {
		return 0, err
	}

	freeDump, err := fsutil.FreeSpace(dumpDir)
	if err != nil {
		return 0, err
	}

	limit := ClampDumpBytes(max, int64(freeTmp), int64(freeDump))
	if limit < max {
		log.Infof("recorder: max_dump_bytes clamped to %s (free: /tmp=%s %s=%s)",
			humanize.IBytes(uint64(limit)),
			humanize.IBytes(freeTmp),
			dumpDir,
			humanize.IBytes(freeDump))
	}

	return limit, nil
}
