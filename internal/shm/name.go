package shm

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

// NameFor derives a host-unique segment name from repoRoot (spec §6
// "Segment identity: a host-unique name derived from the repo root.
// Processes attach by name; first-attach creates."). Any two engines
// pointed at the same repo root compute the same name and therefore
// attach to the same backing file; different roots never collide.
func NameFor(repoRoot string) string {
	abs, err := filepath.Abs(repoRoot)
	if err != nil {
		abs = repoRoot
	}
	sum := sha256.Sum256([]byte(abs))
	return "shimrepo-" + hex.EncodeToString(sum[:8]) + ".shm"
}
