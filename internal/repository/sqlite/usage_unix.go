//go:build unix

package sqlite

import "golang.org/x/sys/unix"

// availableBytes retorna los bytes libres para usuarios sin privilegios
func availableBytes(path string) (int64, bool) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, false
	}
	return int64(stat.Bavail) * int64(stat.Bsize), true
}
