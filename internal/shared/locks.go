package shared

import "hash/fnv"

// AdvisoryLockKey derives a postgres advisory lock id for a named critical section.
func AdvisoryLockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("odyssey:" + name))
	return int64(h.Sum64())
}

// BootstrapLockKey serialises start-up reconciliation across instances.
var BootstrapLockKey = AdvisoryLockKey("bootstrap")
