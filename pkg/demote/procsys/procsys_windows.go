//go:build windows

package procsys

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/jamesainslie/demote/pkg/demote/policy"
)

// Access rights needed to read and change priority class and affinity.
const (
	processQueryInformation = 0x0400
	processSetInformation   = 0x0200

	allProcessorGroups = 0xffff
)

// Win32 priority class values.
const (
	idlePriorityClass        = 0x00000040
	belowNormalPriorityClass = 0x00004000
	normalPriorityClass      = 0x00000020
	aboveNormalPriorityClass = 0x00008000
	highPriorityClass        = 0x00000080
	realtimePriorityClass    = 0x00000100
)

var (
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procGetPriorityClass        = modkernel32.NewProc("GetPriorityClass")
	procSetPriorityClass        = modkernel32.NewProc("SetPriorityClass")
	procGetProcessAffinityMask  = modkernel32.NewProc("GetProcessAffinityMask")
	procSetProcessAffinityMask  = modkernel32.NewProc("SetProcessAffinityMask")
	procGetActiveProcessorCount = modkernel32.NewProc("GetActiveProcessorCount")
)

type windowsSystem struct{}

// New returns the System for the running OS.
func New() System {
	return windowsSystem{}
}

// Processes walks a Toolhelp snapshot of the process table.
func (windowsSystem) Processes() ([]Process, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("creating process snapshot: %w", err)
	}
	defer windows.CloseHandle(snap) //nolint:errcheck // snapshot handle, nothing to recover

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))

	if err := windows.Process32First(snap, &entry); err != nil {
		if errors.Is(err, windows.ERROR_NO_MORE_FILES) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading first process: %w", err)
	}

	var procs []Process
	for {
		procs = append(procs, Process{
			PID:  int(entry.ProcessID),
			Name: windows.UTF16ToString(entry.ExeFile[:]),
		})
		if err := windows.Process32Next(snap, &entry); err != nil {
			if errors.Is(err, windows.ERROR_NO_MORE_FILES) {
				break
			}
			return procs, fmt.Errorf("reading next process: %w", err)
		}
	}
	return procs, nil
}

// Open opens the process with query and set-information rights.
func (windowsSystem) Open(pid int) (Lease, error) {
	h, err := windows.OpenProcess(processQueryInformation|processSetInformation, false, uint32(pid))
	if err != nil {
		switch {
		case errors.Is(err, windows.ERROR_ACCESS_DENIED):
			return nil, fmt.Errorf("%w: pid %d", ErrAccessDenied, pid)
		case errors.Is(err, windows.ERROR_INVALID_PARAMETER):
			return nil, fmt.Errorf("%w: pid %d", ErrNoProcess, pid)
		}
		return nil, fmt.Errorf("opening pid %d: %w", pid, err)
	}
	return &windowsLease{pid: pid, h: h}, nil
}

// LogicalCores counts active processors across all processor groups.
func (windowsSystem) LogicalCores() (int, error) {
	if err := procGetActiveProcessorCount.Find(); err != nil {
		return 0, err
	}
	r1, _, err := procGetActiveProcessorCount.Call(allProcessorGroups)
	if r1 == 0 {
		return 0, fmt.Errorf("GetActiveProcessorCount: %w", err)
	}
	return int(r1), nil
}

type windowsLease struct {
	pid    int
	h      windows.Handle
	mu     sync.Mutex
	closed bool
}

func (l *windowsLease) PID() int { return l.pid }

func (l *windowsLease) handle() (windows.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrLeaseClosed
	}
	return l.h, nil
}

func (l *windowsLease) Priority() (policy.PriorityClass, error) {
	h, err := l.handle()
	if err != nil {
		return policy.PriorityNormal, err
	}
	r1, _, e1 := procGetPriorityClass.Call(uintptr(h))
	if r1 == 0 {
		return policy.PriorityNormal, errnoErr(e1)
	}
	return fromWin32Class(uint32(r1))
}

func (l *windowsLease) SetPriority(p policy.PriorityClass) error {
	h, err := l.handle()
	if err != nil {
		return err
	}
	class, err := toWin32Class(p)
	if err != nil {
		return err
	}
	r1, _, e1 := procSetPriorityClass.Call(uintptr(h), uintptr(class))
	if r1 == 0 {
		return errnoErr(e1)
	}
	return nil
}

func (l *windowsLease) Affinity() (uint64, error) {
	h, err := l.handle()
	if err != nil {
		return 0, err
	}
	var processMask, systemMask uintptr
	r1, _, e1 := procGetProcessAffinityMask.Call(
		uintptr(h),
		uintptr(unsafe.Pointer(&processMask)),
		uintptr(unsafe.Pointer(&systemMask)),
	)
	if r1 == 0 {
		return 0, errnoErr(e1)
	}
	return uint64(processMask), nil
}

func (l *windowsLease) SetAffinity(mask uint64) error {
	h, err := l.handle()
	if err != nil {
		return err
	}
	r1, _, e1 := procSetProcessAffinityMask.Call(uintptr(h), uintptr(mask))
	if r1 == 0 {
		return errnoErr(e1)
	}
	return nil
}

func (l *windowsLease) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return windows.CloseHandle(l.h)
}

func errnoErr(e error) error {
	var errno syscall.Errno
	if errors.As(e, &errno) && errno != 0 {
		if errno == syscall.Errno(windows.ERROR_ACCESS_DENIED) {
			return fmt.Errorf("%w: %v", ErrAccessDenied, errno)
		}
		return errno
	}
	return syscall.EINVAL
}

func toWin32Class(p policy.PriorityClass) (uint32, error) {
	switch p {
	case policy.PriorityIdle:
		return idlePriorityClass, nil
	case policy.PriorityBelowNormal:
		return belowNormalPriorityClass, nil
	case policy.PriorityNormal:
		return normalPriorityClass, nil
	case policy.PriorityAboveNormal:
		return aboveNormalPriorityClass, nil
	case policy.PriorityHigh:
		return highPriorityClass, nil
	case policy.PriorityRealtime:
		return realtimePriorityClass, nil
	default:
		return 0, fmt.Errorf("%w: %v", policy.ErrInvalidPriority, p)
	}
}

func fromWin32Class(class uint32) (policy.PriorityClass, error) {
	switch class {
	case idlePriorityClass:
		return policy.PriorityIdle, nil
	case belowNormalPriorityClass:
		return policy.PriorityBelowNormal, nil
	case normalPriorityClass:
		return policy.PriorityNormal, nil
	case aboveNormalPriorityClass:
		return policy.PriorityAboveNormal, nil
	case highPriorityClass:
		return policy.PriorityHigh, nil
	case realtimePriorityClass:
		return policy.PriorityRealtime, nil
	default:
		return policy.PriorityNormal, fmt.Errorf("unknown priority class %#x", class)
	}
}

// IsElevated reports whether the current process token is elevated.
func IsElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
