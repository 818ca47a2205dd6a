package filesystem

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/pterodactyl/streamfs/internal/ufs"
)

// StatRecord is a snapshot of a file's metadata. Times are [seconds,
// nanoseconds] pairs.
type StatRecord struct {
	Ctime [2]int64 `json:"ctime"`
	Mtime [2]int64 `json:"mtime"`
	Dev   uint64   `json:"dev"`
	Ino   uint64   `json:"ino"`
	Mode  uint32   `json:"mode"`
	Uid   uint32   `json:"uid"`
	Gid   uint32   `json:"gid"`
	Size  int64    `json:"size"`
}

// NewStatRecord builds a StatRecord from info. Fields only available through
// the raw stat buffer are left zero when Sys does not carry one.
func NewStatRecord(info ufs.FileInfo) *StatRecord {
	mtime := info.ModTime()
	rec := &StatRecord{
		Mtime: [2]int64{mtime.Unix(), int64(mtime.Nanosecond())},
		Size:  info.Size(),
	}
	// Do not remove these "redundant" type-casts, they are required for 32-bit builds to work.
	switch st := info.Sys().(type) {
	case *unix.Stat_t:
		rec.Ctime = [2]int64{int64(st.Ctim.Sec), int64(st.Ctim.Nsec)}
		rec.Dev = uint64(st.Dev)
		rec.Ino = uint64(st.Ino)
		rec.Mode = uint32(st.Mode)
		rec.Uid = st.Uid
		rec.Gid = st.Gid
	case *syscall.Stat_t:
		rec.Ctime = [2]int64{int64(st.Ctim.Sec), int64(st.Ctim.Nsec)}
		rec.Dev = uint64(st.Dev)
		rec.Ino = uint64(st.Ino)
		rec.Mode = uint32(st.Mode)
		rec.Uid = st.Uid
		rec.Gid = st.Gid
	default:
		rec.Mode = uint32(info.Mode().Perm())
	}
	return rec
}

// IsDir reports whether the record describes a directory.
func (s *StatRecord) IsDir() bool {
	return s.Mode&unix.S_IFMT == unix.S_IFDIR
}

// IsSymlink reports whether the record describes a symbolic link.
func (s *StatRecord) IsSymlink() bool {
	return s.Mode&unix.S_IFMT == unix.S_IFLNK
}

// ModTime returns the modification time.
func (s *StatRecord) ModTime() time.Time {
	return time.Unix(s.Mtime[0], s.Mtime[1])
}

// FileMode converts the raw mode into a ufs.FileMode.
func (s *StatRecord) FileMode() ufs.FileMode {
	m := ufs.FileMode(s.Mode & 0o777)
	switch s.Mode & unix.S_IFMT {
	case unix.S_IFBLK:
		m |= ufs.ModeDevice
	case unix.S_IFCHR:
		m |= ufs.ModeDevice | ufs.ModeCharDevice
	case unix.S_IFDIR:
		m |= ufs.ModeDir
	case unix.S_IFIFO:
		m |= ufs.ModeNamedPipe
	case unix.S_IFLNK:
		m |= ufs.ModeSymlink
	case unix.S_IFSOCK:
		m |= ufs.ModeSocket
	}
	if s.Mode&unix.S_ISGID != 0 {
		m |= ufs.ModeSetgid
	}
	if s.Mode&unix.S_ISUID != 0 {
		m |= ufs.ModeSetuid
	}
	if s.Mode&unix.S_ISVTX != 0 {
		m |= ufs.ModeSticky
	}
	return m
}
