package hotswap

import (
	"github.com/zot/hotswap/internal/config"
	"github.com/zot/hotswap/internal/redefine"
	"github.com/zot/hotswap/internal/typeid"
)

// stabilize waits for the unit at path to settle. In delay mode it sleeps
// the reload delay. In checksum mode it also re-reads the file after each
// sleep and redefines it while the bytes keep changing, up to the configured
// number of attempts. It returns the last good definition.
func (s *Service) stabilize(name, path string, id typeid.Identity, digest string) typeid.Identity {
	s.sleep(s.ReloadDelay())
	if s.config.HotSwap.Stabilize != config.StabilizeChecksum {
		return id
	}
	attempts := s.config.HotSwap.StabilizeAttempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; ; i++ {
		current, err := redefine.FileDigest(path)
		if err != nil {
			s.config.Log(0, "HotSwap: cannot re-read %s: %v", path, err)
			return id
		}
		if current == digest {
			return id
		}
		if i == attempts {
			s.config.Log(1, "HotSwap: %s still changing after %d attempts, using the last definition", name, attempts)
			return id
		}
		s.config.Log(2, "HotSwap: %s changed since it was defined, redefining", name)
		next, nextDigest, err := s.redefiner.RedefineDigest(name, path)
		if err != nil {
			s.config.Log(0, "HotSwap: redefinition of %s failed: %v", name, err)
			return id
		}
		id, digest = next, nextDigest
		s.sleep(s.ReloadDelay())
	}
}
