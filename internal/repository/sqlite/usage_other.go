//go:build !unix

package sqlite

// Sin API de cuota fuera de unix
func availableBytes(string) (int64, bool) {
	return 0, false
}
