package symtab

import "os"

// FileKey identifies a file without a build ID. Size and modification time
// are part of the key so a file rewritten in place is not served from the
// cache.
type FileKey struct {
	Dev   uint64
	Inode uint64
	Size  int64
	MTime int64
}

// fileKeyOf returns the zero key when the platform has no device and inode
// numbers; the zero key is never cached.
func fileKeyOf(fi os.FileInfo) FileKey {
	dev, ino, ok := devInode(fi)
	if !ok {
		return FileKey{}
	}
	return FileKey{
		Dev:   dev,
		Inode: ino,
		Size:  fi.Size(),
		MTime: fi.ModTime().UnixNano(),
	}
}
