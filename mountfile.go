package viofs

import "github.com/viofs/viofs/internal/engine"

// MountFile opens (or creates) path as the primary container and, when
// enableMirroring is true, a sibling "<path>.bak" mirror, then mounts a
// VFS over them.
func MountFile(path string, enableMirroring bool, opts Options) (*VFS, error) {
	primary, err := engine.OpenFileContainer(path)
	if err != nil {
		return nil, err
	}
	if enableMirroring {
		mirror, err := engine.OpenFileContainer(path + ".bak")
		if err != nil {
			return nil, err
		}
		opts.Mirror = mirror
	}
	return Mount(primary, opts)
}
