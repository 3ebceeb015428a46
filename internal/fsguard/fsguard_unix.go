//go:build unix

package fsguard

import (
	"bufio"
	"os"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/ralph-run/ralph/internal/models"
)

func deviceInode(fi os.FileInfo) (dev, ino uint64, ok bool) {
	st, isStat := fi.Sys().(*syscall.Stat_t)
	if !isStat {
		return 0, 0, false
	}
	return uint64(st.Dev), uint64(st.Ino), true
}

func openFlagsFor(mode models.VerifiedFileMode) int {
	switch mode {
	case models.ModeWrite:
		return unix.O_WRONLY | unix.O_CREAT | unix.O_TRUNC
	case models.ModeAppend:
		return unix.O_WRONLY | unix.O_CREAT | unix.O_APPEND
	case models.ModeReadWrite:
		return unix.O_RDWR
	default:
		return unix.O_RDONLY
	}
}

// openNoFollow opens an existing path refusing to traverse a final-
// component symlink, a mandatory TOCTOU guard.
func openNoFollow(path string, mode models.VerifiedFileMode) (*os.File, error) {
	fd, err := unix.Open(path, openFlagsFor(mode)|unix.O_NOFOLLOW, 0)
	if err != nil {
		if err == unix.ELOOP {
			return nil, ErrSymlinkRejected
		}
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}

// createExclusive opens parentDir, then creates basename under it via
// openat with O_CREAT|O_EXCL so a file that appears between capture and
// create is reported rather than silently opened.
func createExclusive(parentDir, basename string, mode models.VerifiedFileMode) (*os.File, error) {
	parentFd, err := unix.Open(parentDir, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return nil, err
	}
	defer unix.Close(parentFd)

	flags := openFlagsFor(mode) | unix.O_CREAT | unix.O_EXCL | unix.O_NOFOLLOW
	fd, err := unix.Openat(parentFd, basename, flags, 0o644)
	if err != nil {
		if err == unix.EEXIST {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}
	return os.NewFile(uintptr(fd), basename), nil
}

// isNetworkFilesystem inspects /proc/mounts for the longest matching
// mount point and reports whether its fs type is a known network
// filesystem. Best-effort: failure to read /proc/mounts reports false
// rather than erroring the caller — callers are advised the guarantee is
// weaker on a network filesystem, not that one can never be detected.
func isNetworkFilesystem(resolved string) bool {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return false
	}
	defer f.Close()

	networkFSTypes := map[string]bool{
		"nfs": true, "nfs4": true, "cifs": true, "smb3": true, "smbfs": true,
		"fuse.sshfs": true, "9p": true, "afs": true,
	}

	bestLen := -1
	bestNetwork := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		mountPoint, fsType := fields[1], fields[2]
		if !strings.HasPrefix(resolved, mountPoint) {
			continue
		}
		if len(mountPoint) > bestLen {
			bestLen = len(mountPoint)
			bestNetwork = networkFSTypes[fsType]
		}
	}
	return bestNetwork
}
