//go:build windows

package fsguard

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/ralph-run/ralph/internal/models"
)

// On Windows, deviceInode reads the volume serial number and file index
// (the NTFS analogs of (dev, ino)) via GetFileInformationByHandle.
func deviceInode(fi os.FileInfo) (dev, ino uint64, ok bool) {
	path, err := filepath.Abs(fi.Name())
	if err != nil {
		return 0, 0, false
	}
	h, err := windows.CreateFile(
		windows.StringToUTF16Ptr(path),
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS|windows.FILE_FLAG_OPEN_REPARSE_POINT,
		0,
	)
	if err != nil {
		return 0, 0, false
	}
	defer windows.CloseHandle(h)

	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h, &info); err != nil {
		return 0, 0, false
	}
	dev = uint64(info.VolumeSerialNumber)
	ino = uint64(info.FileIndexHigh)<<32 | uint64(info.FileIndexLow)
	return dev, ino, true
}

func openNoFollow(path string, mode models.VerifiedFileMode) (*os.File, error) {
	access := uint32(windows.GENERIC_READ)
	createDisp := uint32(windows.OPEN_EXISTING)
	switch mode {
	case models.ModeWrite:
		access = windows.GENERIC_WRITE
		createDisp = windows.TRUNCATE_EXISTING
	case models.ModeAppend, models.ModeReadWrite:
		access = windows.GENERIC_READ | windows.GENERIC_WRITE
	}

	h, err := windows.CreateFile(
		windows.StringToUTF16Ptr(path),
		access,
		windows.FILE_SHARE_READ,
		nil,
		createDisp,
		windows.FILE_FLAG_OPEN_REPARSE_POINT,
		0,
	)
	if err != nil {
		return nil, err
	}

	var attrTag windows.FILE_ATTRIBUTE_TAG_INFO
	if err := windows.GetFileInformationByHandleEx(h, windows.FileAttributeTagInfo, (*byte)(unsafe.Pointer(&attrTag)), uint32(unsafe.Sizeof(attrTag))); err == nil {
		if attrTag.FileAttributes&windows.FILE_ATTRIBUTE_REPARSE_POINT != 0 {
			windows.CloseHandle(h)
			return nil, ErrSymlinkRejected
		}
	}

	return os.NewFile(uintptr(h), path), nil
}

func createExclusive(parentDir, basename string, mode models.VerifiedFileMode) (*os.File, error) {
	full := filepath.Join(parentDir, basename)
	h, err := windows.CreateFile(
		windows.StringToUTF16Ptr(full),
		windows.GENERIC_WRITE,
		0,
		nil,
		windows.CREATE_NEW,
		windows.FILE_FLAG_OPEN_REPARSE_POINT,
		0,
	)
	if err != nil {
		if err == windows.ERROR_FILE_EXISTS || err == syscall.ERROR_FILE_EXISTS {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}
	return os.NewFile(uintptr(h), full), nil
}

// isNetworkFilesystem uses GetVolumeInformation's root-path drive type via
// GetDriveType, the Windows analog of inspecting /proc/mounts.
func isNetworkFilesystem(resolved string) bool {
	volume := filepath.VolumeName(resolved)
	if volume == "" {
		return false
	}
	root := volume + `\`
	driveType := windows.GetDriveType(windows.StringToUTF16Ptr(root))
	return driveType == windows.DRIVE_REMOTE || strings.HasPrefix(resolved, `/unc/`)
}
