//go:build !linux

package archive

func moveNoReplace(src, dst string) error {
	return linkAndRemove(src, dst)
}
