// Package fsguard implements the Atomic File Opener (C3) and the
// Protected Files Cache (C4): TOCTOU-safe path capture/verification plus a
// refreshed set of (device, inode) identities for files that must never be
// written, however they are referenced.
//
// Capture-then-verify-then-open, generalized to full O_NOFOLLOW/O_EXCL +
// fstat identity verification; the protected files set reuses the same
// single-writer, mutex-guarded, in-memory-only cache discipline.
package fsguard

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ralph-run/ralph/internal/models"
)

// Verification / open errors surfaced by Capture/VerifyAndOpen.
var (
	ErrInvalidPath     = errors.New("fsguard: invalid_path")
	ErrOpen            = errors.New("fsguard: open")
	ErrStat            = errors.New("fsguard: stat")
	ErrInodeMismatch   = errors.New("fsguard: inode_mismatch")
	ErrParentChanged   = errors.New("fsguard: parent_changed")
	ErrAlreadyExists   = errors.New("fsguard: already_exists")
	ErrSymlinkRejected = errors.New("fsguard: symlink_rejected")
)

// Capture resolves and stats userPath, producing an ApprovedPath that the
// approval step hands off to VerifyAndOpen (directly, or via the
// verified-file context in internal/verifiedfile). If the path does not
// exist yet, the parent directory's identity is recorded instead so a
// later create can verify the parent hasn't been swapped out from under
// it.
func Capture(userPath string) (models.ApprovedPath, error) {
	if userPath == "" {
		return models.ApprovedPath{}, ErrInvalidPath
	}

	resolved, err := filepath.Abs(userPath)
	if err != nil {
		return models.ApprovedPath{}, ErrInvalidPath
	}
	parent := filepath.Dir(resolved)

	ap := models.ApprovedPath{
		UserPath:     userPath,
		ResolvedPath: resolved,
		ParentPath:   parent,
	}

	ap.IsNetworkFS = isNetworkFilesystem(resolved)

	st, err := os.Lstat(resolved)
	if err != nil {
		if !os.IsNotExist(err) {
			return models.ApprovedPath{}, ErrStat
		}
		ap.Existed = false
		pst, perr := os.Lstat(parent)
		if perr != nil {
			return models.ApprovedPath{}, ErrStat
		}
		dev, ino, ok := deviceInode(pst)
		if !ok {
			return models.ApprovedPath{}, ErrStat
		}
		ap.ParentDevice, ap.ParentInode = dev, ino
		return ap, nil
	}

	ap.Existed = true
	dev, ino, ok := deviceInode(st)
	if !ok {
		return models.ApprovedPath{}, ErrStat
	}
	ap.Device, ap.Inode = dev, ino
	return ap, nil
}

// VerifyAndOpen reopens the path captured in approved, refusing
// symlinks, and confirms the kernel-
// reported identity still matches what was recorded at capture time
// before handing back a usable file.
func VerifyAndOpen(approved models.ApprovedPath, mode models.VerifiedFileMode) (*os.File, error) {
	if approved.Existed {
		return verifyAndOpenExisting(approved, mode)
	}
	return verifyAndCreate(approved, mode)
}

func verifyAndOpenExisting(approved models.ApprovedPath, mode models.VerifiedFileMode) (*os.File, error) {
	f, err := openNoFollow(approved.ResolvedPath, mode)
	if err != nil {
		if errors.Is(err, ErrSymlinkRejected) {
			return nil, err
		}
		return nil, ErrOpen
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ErrStat
	}
	dev, ino, ok := deviceInode(st)
	if !ok {
		f.Close()
		return nil, ErrStat
	}
	if dev != approved.Device || ino != approved.Inode {
		f.Close()
		return nil, ErrInodeMismatch
	}
	return f, nil
}

func verifyAndCreate(approved models.ApprovedPath, mode models.VerifiedFileMode) (*os.File, error) {
	pst, err := os.Lstat(approved.ParentPath)
	if err != nil {
		return nil, ErrParentChanged
	}
	dev, ino, ok := deviceInode(pst)
	if !ok || dev != approved.ParentDevice || ino != approved.ParentInode {
		return nil, ErrParentChanged
	}

	f, err := createExclusive(approved.ParentPath, filepath.Base(approved.ResolvedPath), mode)
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, ErrAlreadyExists
		}
		return nil, ErrOpen
	}
	return f, nil
}

// ---- Protected Files Cache (C4) ----

// Detector is one of three textual checks: exact basename match,
// basename prefix match, or a glob against the normalized path.
type Detector struct {
	ExactBasenames  []string
	PrefixBasenames []string
	GlobPatterns    []string
}

// DefaultDetector covers the well-known candidates: config files,
// .env/.env.*, and nothing certificate-store specific by default —
// callers extend it.
func DefaultDetector() Detector {
	return Detector{
		ExactBasenames:  []string{"ralph.config.json", ".env"},
		PrefixBasenames: []string{".env."},
		GlobPatterns:    []string{"**/ralph.config.json", "**/.ralph/config.json", "**/.env", "**/.env.*"},
	}
}

// Cache is the refreshed set of protected (device, inode) identities.
// Single writer (Refresh), many tolerant readers (IsProtected).
type Cache struct {
	detector Detector
	roots    []string
	ttl      time.Duration

	mu          chanMutex
	entries     map[string]models.ProtectedFileEntry // key: "device:inode"
	lastRefresh time.Time
}

// chanMutex is a trivial channel-based mutex; kept distinct from
// sync.Mutex only to make the single-writer contract explicit at the call
// site (Lock/Unlock read the same as sync.Mutex).
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	c := make(chanMutex, 1)
	c <- struct{}{}
	return c
}
func (c chanMutex) Lock()   { <-c }
func (c chanMutex) Unlock() { c <- struct{}{} }

// NewCache builds a protected-files cache that scans roots for candidates
// matching detector, refreshing passively every ttl and on ForceRefresh.
func NewCache(detector Detector, roots []string, ttl time.Duration) *Cache {
	return &Cache{
		detector: detector,
		roots:    roots,
		ttl:      ttl,
		mu:       newChanMutex(),
		entries:  make(map[string]models.ProtectedFileEntry),
	}
}

// ForceRefresh rescans unconditionally; the batch executor (C13) calls
// this at the entry of every tool batch.
func (c *Cache) ForceRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()
}

// refreshIfStale rescans only if the passive TTL has elapsed.
func (c *Cache) refreshIfStale() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastRefresh) < c.ttl {
		return
	}
	c.refreshLocked()
}

func (c *Cache) refreshLocked() {
	fresh := make(map[string]models.ProtectedFileEntry)
	for _, root := range c.roots {
		for _, candidate := range c.candidatesUnder(root) {
			st, err := os.Lstat(candidate)
			if err != nil {
				continue
			}
			dev, ino, ok := deviceInode(st)
			if !ok {
				continue
			}
			fresh[key(dev, ino)] = models.ProtectedFileEntry{Device: dev, Inode: ino, PathHint: candidate}
		}
	}
	c.entries = fresh
	c.lastRefresh = time.Now()
}

func (c *Cache) candidatesUnder(root string) []string {
	var out []string
	for _, b := range c.detector.ExactBasenames {
		out = append(out, filepath.Join(root, b))
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return out
	}
	for _, e := range entries {
		for _, prefix := range c.detector.PrefixBasenames {
			if len(e.Name()) >= len(prefix) && e.Name()[:len(prefix)] == prefix {
				out = append(out, filepath.Join(root, e.Name()))
			}
		}
	}
	return out
}

// IsProtected checks all three textual detectors against userPath and,
// independently, opens-and-stats it to catch a hardlinked or renamed copy
// whose identity is already in the cache even if its current name isn't.
func (c *Cache) IsProtected(userPath string) bool {
	c.refreshIfStale()

	base := filepath.Base(userPath)
	for _, b := range c.detector.ExactBasenames {
		if base == b {
			return true
		}
	}
	for _, p := range c.detector.PrefixBasenames {
		if len(base) >= len(p) && base[:len(p)] == p {
			return true
		}
	}
	normalized := normalizedSlashPath(userPath)
	for _, g := range c.detector.GlobPatterns {
		if matchesGlobstar(g, normalized) {
			return true
		}
	}

	st, err := os.Lstat(userPath)
	if err != nil {
		return false
	}
	dev, ino, ok := deviceInode(st)
	if !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, found := c.entries[key(dev, ino)]
	return found
}

// normalizedSlashPath resolves userPath to an absolute, forward-slashed
// form so a GlobPatterns entry like "**/.ralph/config.json" has a stable
// multi-segment string to match against regardless of how the call
// argument spelled the path or which OS this runs on. Falls back to a
// forward-slashed form of the raw path if it can't be made absolute.
func normalizedSlashPath(userPath string) string {
	if abs, err := filepath.Abs(userPath); err == nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(userPath)
}

// matchesGlobstar matches pattern against path, treating a leading "**/"
// as "this suffix pattern, at any depth" — filepath.Match alone treats
// "/" as a literal separator and can never match a multi-segment path
// against a pattern containing "/", so a literal "**/ralph.config.json"
// pattern would otherwise never match a full path like
// "/home/user/ralph.config.json".
func matchesGlobstar(pattern, path string) bool {
	suffix, isGlobstar := strings.CutPrefix(pattern, "**/")
	if !isGlobstar {
		ok, _ := filepath.Match(pattern, path)
		return ok
	}
	for {
		if ok, _ := filepath.Match(suffix, path); ok {
			return true
		}
		idx := strings.IndexByte(path, '/')
		if idx == -1 {
			return false
		}
		path = path[idx+1:]
	}
}

func key(dev, ino uint64) string {
	return itoa(dev) + ":" + itoa(ino)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
