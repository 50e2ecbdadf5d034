//go:build linux

package procsys

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/jamesainslie/demote/pkg/demote/policy"
)

// commLen is the kernel's TASK_COMM_LEN minus the terminator; longer image
// names are truncated in /proc/<pid>/comm.
const commLen = 15

// capSysNice is CAP_SYS_NICE's bit in the capability sets.
const capSysNice = 23

type linuxSystem struct {
	procRoot  string
	sysfsRoot string
}

// New returns the System for the running OS.
func New() System {
	return &linuxSystem{
		procRoot:  "/proc",
		sysfsRoot: "/sys/devices/system/cpu",
	}
}

// Processes lists /proc. Entries that vanish or cannot be read while
// listing are skipped.
func (s *linuxSystem) Processes() ([]Process, error) {
	entries, err := os.ReadDir(s.procRoot)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.procRoot, err)
	}

	procs := make([]Process, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		name, ok := s.imageName(pid)
		if !ok {
			continue
		}
		procs = append(procs, Process{PID: pid, Name: name})
	}
	return procs, nil
}

// imageName reads comm and, when comm may have been truncated, prefers the
// base name of the exe link.
func (s *linuxSystem) imageName(pid int) (string, bool) {
	dir := filepath.Join(s.procRoot, strconv.Itoa(pid))
	data, err := os.ReadFile(filepath.Join(dir, "comm"))
	if err != nil {
		return "", false
	}
	comm := strings.TrimSpace(string(data))
	if len(comm) < commLen {
		return comm, true
	}
	exe, err := os.Readlink(filepath.Join(dir, "exe"))
	if err != nil {
		return comm, true
	}
	base := filepath.Base(strings.TrimSuffix(exe, " (deleted)"))
	if strings.HasPrefix(base, comm) {
		return base, true
	}
	return comm, true
}

// Open takes a pidfd on the process so the lease refers to this exact
// process even if the pid is later reused. Kernels without pidfd_open fall
// back to a liveness probe. The caller's right to renice and pin the
// target is checked before the pidfd is taken.
func (s *linuxSystem) Open(pid int) (Lease, error) {
	if err := s.checkAccess(pid); err != nil {
		return nil, err
	}

	fd, err := unix.PidfdOpen(pid, 0)
	switch {
	case err == nil:
	case errors.Is(err, unix.ENOSYS):
		fd = -1
		if err := unix.Kill(pid, 0); err != nil && !errors.Is(err, unix.EPERM) {
			return nil, fmt.Errorf("%w: pid %d", ErrNoProcess, pid)
		}
	case errors.Is(err, unix.ESRCH):
		return nil, fmt.Errorf("%w: pid %d", ErrNoProcess, pid)
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return nil, fmt.Errorf("%w: pid %d", ErrAccessDenied, pid)
	default:
		return nil, fmt.Errorf("opening pid %d: %w", pid, err)
	}
	return &linuxLease{pid: pid, fd: fd, procRoot: s.procRoot}, nil
}

// checkAccess applies the kernel's rule for setpriority and
// sched_setaffinity: root or CAP_SYS_NICE may change any process, anyone
// else only processes whose real or effective uid is their effective uid.
func (s *linuxSystem) checkAccess(pid int) error {
	self, err := readStatus(filepath.Join(s.procRoot, "self", "status"))
	if err != nil {
		self = procStatus{euid: os.Geteuid()}
	}
	if self.euid == 0 || self.capEff&(1<<capSysNice) != 0 {
		return nil
	}

	target, err := readStatus(filepath.Join(s.procRoot, strconv.Itoa(pid), "status"))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: pid %d", ErrNoProcess, pid)
	case err != nil:
		return fmt.Errorf("%w: pid %d: %v", ErrAccessDenied, pid, err)
	}
	if target.uid == self.euid || target.euid == self.euid {
		return nil
	}
	return fmt.Errorf("%w: pid %d owned by uid %d", ErrAccessDenied, pid, target.uid)
}

// procStatus holds the credential fields of /proc/<pid>/status.
type procStatus struct {
	uid    int
	euid   int
	capEff uint64
}

func readStatus(path string) (procStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return procStatus{}, err
	}

	var st procStatus
	seenUID := false
	for _, line := range strings.Split(string(data), "\n") {
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields := strings.Fields(val)
		switch key {
		case "Uid":
			// real, effective, saved, filesystem
			if len(fields) < 2 {
				return procStatus{}, fmt.Errorf("%s: malformed Uid line", path)
			}
			if st.uid, err = strconv.Atoi(fields[0]); err != nil {
				return procStatus{}, fmt.Errorf("%s: %w", path, err)
			}
			if st.euid, err = strconv.Atoi(fields[1]); err != nil {
				return procStatus{}, fmt.Errorf("%s: %w", path, err)
			}
			seenUID = true
		case "CapEff":
			if len(fields) == 1 {
				st.capEff, _ = strconv.ParseUint(fields[0], 16, 64)
			}
		}
	}
	if !seenUID {
		return procStatus{}, fmt.Errorf("%s: no Uid line", path)
	}
	return st, nil
}

// LogicalCores returns one past the highest online CPU, so the highest
// core a mask can name is always online.
func (s *linuxSystem) LogicalCores() (int, error) {
	path := filepath.Join(s.sysfsRoot, "online")
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading online cpus: %w", err)
	}
	highest, err := highestCPU(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return highest + 1, nil
}

// highestCPU parses a kernel cpu list such as "0-3,6,8-11".
func highestCPU(list string) (int, error) {
	if list == "" {
		return 0, errors.New("empty cpu list")
	}
	highest := -1
	for _, part := range strings.Split(list, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		if !isRange {
			hi = lo
		}
		first, err := strconv.Atoi(lo)
		if err != nil {
			return 0, fmt.Errorf("bad cpu list %q", list)
		}
		last, err := strconv.Atoi(hi)
		if err != nil || last < first {
			return 0, fmt.Errorf("bad cpu list %q", list)
		}
		highest = max(highest, last)
	}
	return highest, nil
}

type linuxLease struct {
	pid      int
	fd       int
	procRoot string
	mu       sync.Mutex
	closed   bool
}

func (l *linuxLease) PID() int { return l.pid }

func (l *linuxLease) check() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLeaseClosed
	}
	return nil
}

// tasks returns every thread id of the process; nice values and affinity
// are per-thread on Linux.
func (l *linuxLease) tasks() []int {
	entries, err := os.ReadDir(filepath.Join(l.procRoot, strconv.Itoa(l.pid), "task"))
	if err != nil {
		return []int{l.pid}
	}
	tids := make([]int, 0, len(entries))
	for _, e := range entries {
		if tid, err := strconv.Atoi(e.Name()); err == nil {
			tids = append(tids, tid)
		}
	}
	if len(tids) == 0 {
		return []int{l.pid}
	}
	return tids
}

func (l *linuxLease) Priority() (policy.PriorityClass, error) {
	if err := l.check(); err != nil {
		return policy.PriorityNormal, err
	}
	// The raw syscall returns 20-nice.
	prio, err := unix.Getpriority(unix.PRIO_PROCESS, l.pid)
	if err != nil {
		return policy.PriorityNormal, wrapErrno(err)
	}
	return niceToClass(20 - prio), nil
}

func (l *linuxLease) SetPriority(p policy.PriorityClass) error {
	if err := l.check(); err != nil {
		return err
	}
	nice, err := classToNice(p)
	if err != nil {
		return err
	}
	var errs []error
	for _, tid := range l.tasks() {
		if err := unix.Setpriority(unix.PRIO_PROCESS, tid, nice); err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, fmt.Errorf("tid %d: %w", tid, wrapErrno(err)))
		}
	}
	return errors.Join(errs...)
}

func (l *linuxLease) Affinity() (uint64, error) {
	if err := l.check(); err != nil {
		return 0, err
	}
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(l.pid, &set); err != nil {
		return 0, wrapErrno(err)
	}
	var mask uint64
	for i := 0; i < policy.MaxMaskBits; i++ {
		if set.IsSet(i) {
			mask |= 1 << uint(i)
		}
	}
	return mask, nil
}

func (l *linuxLease) SetAffinity(mask uint64) error {
	if err := l.check(); err != nil {
		return err
	}
	if mask == 0 {
		return unix.EINVAL
	}
	var set unix.CPUSet
	set.Zero()
	for i := 0; i < policy.MaxMaskBits; i++ {
		if mask&(1<<uint(i)) != 0 {
			set.Set(i)
		}
	}
	var errs []error
	for _, tid := range l.tasks() {
		if err := unix.SchedSetaffinity(tid, &set); err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, fmt.Errorf("tid %d: %w", tid, wrapErrno(err)))
		}
	}
	return errors.Join(errs...)
}

func (l *linuxLease) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.fd >= 0 {
		return unix.Close(l.fd)
	}
	return nil
}

func wrapErrno(err error) error {
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	if errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("%w: %v", ErrNoProcess, err)
	}
	return err
}

// Nice values used for each class when writing.
var classNice = map[policy.PriorityClass]int{
	policy.PriorityIdle:        19,
	policy.PriorityBelowNormal: 10,
	policy.PriorityNormal:      0,
	policy.PriorityAboveNormal: -5,
	policy.PriorityHigh:        -10,
	policy.PriorityRealtime:    -20,
}

func classToNice(p policy.PriorityClass) (int, error) {
	nice, ok := classNice[p]
	if !ok {
		return 0, fmt.Errorf("%w: %v", policy.ErrInvalidPriority, p)
	}
	return nice, nil
}

func niceToClass(nice int) policy.PriorityClass {
	switch {
	case nice >= 19:
		return policy.PriorityIdle
	case nice > 0:
		return policy.PriorityBelowNormal
	case nice == 0:
		return policy.PriorityNormal
	case nice > -10:
		return policy.PriorityAboveNormal
	case nice > -20:
		return policy.PriorityHigh
	default:
		return policy.PriorityRealtime
	}
}

// IsElevated reports whether the process runs as root.
func IsElevated() bool {
	return os.Geteuid() == 0
}
