//go:build !(linux || darwin || freebsd)

package file

func statFilesystem(dir string) (*StorageInfo, error) {
	return nil, ErrStorageInfoUnsupported
}
