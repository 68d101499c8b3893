// Package statusstore persists backend up/down status across restarts,
// as a fixed-size flat file: one status byte per possible backend index
// rather than a KV store — bbolt is reserved for pkg/audit instead.
package statusstore

import (
	"fmt"
	"os"

	"github.com/sentrypool/sentrypool/pkg/log"
	"github.com/sentrypool/sentrypool/pkg/types"
)

var logger = log.WithComponent("statusstore")

// recordByte maps a BackendStatus to its on-disk byte. UNUSED backends
// are never mutated by Save, but Load must still produce a full-length
// buffer, so UNUSED occupies byte 0.
func recordByte(s types.BackendStatus) byte {
	switch s {
	case types.BackendDown:
		return 1
	default:
		return 0
	}
}

// Load reads the persistent status file and returns one BackendStatus
// per index in [0, numBackends). If discard is true, the file is
// unlinked and every backend starts at CONNECT_WAIT. Read/parse failure
// is logged and treated the same as discard=true: never fatal.
//
// Sanity rule: if every stored status decodes as DOWN,
// the file is treated as bogus (a corrupted file must never leave every
// backend permanently unreachable) and every backend is reset to
// CONNECT_WAIT instead.
func Load(path string, numBackends int, discard bool) []types.BackendStatus {
	out := make([]types.BackendStatus, numBackends)
	for i := range out {
		out[i] = types.BackendConnectWait
	}

	if discard {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", path).Msg("failed to remove status file on discard")
		}
		return out
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", path).Msg("failed to read status file, starting clean")
		}
		return out
	}
	if len(data) < numBackends {
		logger.Warn().Str("path", path).Int("size", len(data)).Msg("status file too short, starting clean")
		return out
	}

	allDown := true
	for i := 0; i < numBackends; i++ {
		if data[i] == recordByte(types.BackendDown) {
			out[i] = types.BackendDown
		} else {
			out[i] = types.BackendConnectWait
			allDown = false
		}
	}

	if allDown {
		logger.Warn().Str("path", path).Msg("status file reports every backend down, treating as bogus")
		for i := range out {
			out[i] = types.BackendConnectWait
		}
	}

	return out
}

// Save writes a snapshot of current backend statuses to path. Intended
// to be called only on clean shutdown. Failure is logged, never fatal.
func Save(path string, statuses []types.BackendStatus) error {
	size := types.MaxNumBackends
	if len(statuses) > size {
		size = len(statuses)
	}
	buf := make([]byte, size)
	for i, st := range statuses {
		buf[i] = recordByte(st)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("failed to write status file")
		return fmt.Errorf("statusstore: write %s: %w", path, err)
	}
	return nil
}
