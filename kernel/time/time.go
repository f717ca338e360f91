// Package time owns the millisecond clock: the system timer tick, sleeping
// threads, process alarms and the time-of-day state.
package time

import (
	"github.com/google/btree"

	"los/kernel"
	"los/kernel/cpu"
	"los/kernel/kfmt"
	"los/kernel/proc"
	"los/kernel/sync"
)

const preemptInterval = 10

var (
	errTimeReinit      = &kernel.Error{Module: "time", ModuleNum: kernel.ModuleNumTime, Status: kernel.StatusExists, Message: "time subsystem initialized twice"}
	errTimerRegistered = &kernel.Error{Module: "time", ModuleNum: kernel.ModuleNumTime, Status: kernel.StatusExists, Message: "a system timer is already registered"}

	timeInitialized bool

	systemTime uint64

	// Real-time state.
	epochTime    int64
	systemOffset uint64
	timeZone     int64

	sleepingThreads proc.SortedThreadQueue

	alarmLock sync.CriticalLock
	alarms    *btree.BTreeG[alarmEntry]

	systemTimerPath string
)

// alarmEntry orders process alarms by deadline, ties broken by process id.
type alarmEntry struct {
	deadline uint64
	pid      int64
}

func alarmLess(a, b alarmEntry) bool {
	if a.deadline != b.deadline {
		return a.deadline < b.deadline
	}
	return a.pid < b.pid
}

// Init prepares the clock state.
func Init() *kernel.Error {
	if timeInitialized {
		return errTimeReinit
	}
	timeInitialized = true

	alarms = btree.NewG(2, alarmLess)
	return nil
}

// Reset returns the package to its pre-Init state. Used by tests.
func Reset() {
	timeInitialized = false
	systemTime = 0
	epochTime = 0
	systemOffset = 0
	timeZone = 0
	sleepingThreads = proc.SortedThreadQueue{}
	alarms = nil
	systemTimerPath = ""
}

// RegisterSystemTimer records which driver supplies the millisecond tick
// and hands it the callback to invoke on every timer interrupt.
func RegisterSystemTimer(timerPath string) (func(), *kernel.Error) {
	if systemTimerPath != "" {
		return nil, errTimerRegistered
	}

	systemTimerPath = timerPath
	kfmt.Printf("[time] %s registered as system timer\n", timerPath)
	return MillisecondTick, nil
}

// MillisecondTick advances the clock: it wakes due sleepers, fires elapsed
// alarms as signals, accounts process time and preempts every tenth tick.
func MillisecondTick() {
	systemTime++
	now := systemTime

	proc.WakeExpired(&sleepingThreads, now)

	for {
		alarmLock.Acquire()
		entry, ok := alarms.Min()
		if !ok || entry.deadline > now {
			alarmLock.Release()
			break
		}
		alarms.DeleteMin()
		alarmLock.Release()

		proc.RaiseSignal(entry.pid, proc.SignalAlarm)
	}

	if t := proc.CurrentThreadOption(); t != nil {
		t.Process().TickProcessTime()
	}

	if now%preemptInterval == 0 {
		proc.Preempt()
	}
}

// CurrentTimeMillis returns the milliseconds since boot.
func CurrentTimeMillis() uint64 {
	return systemTime
}

// Sleep suspends the current thread for the given number of milliseconds.
// Short sleeps spin in a HLT loop; longer ones park on the sleep queue
// under their deadline.
func Sleep(duration uint64) {
	end := systemTime + duration

	if duration < 10 {
		for systemTime < end {
			cpu.Halt()
		}
		return
	}

	proc.Yield(sleepingThreads.CurrentQueue(end))
}

// SleepQueue exposes the sleep queue for layered timeout waits.
func SleepQueue() *proc.SortedThreadQueue {
	return &sleepingThreads
}

// SetAlarm schedules the Alarm signal for the current process after the
// given number of milliseconds.
func SetAlarm(duration uint64) {
	pid := proc.CurrentProcess().ID()

	alarmLock.Acquire()
	alarms.ReplaceOrInsert(alarmEntry{deadline: systemTime + duration, pid: pid})
	alarmLock.Release()
}

// SetTimezone stores the timezone offset with the DST bit in the low bit.
func SetTimezone(offset int64, dst bool) {
	timeZone = offset &^ 1
	if dst {
		timeZone |= 1
	}
}

// Timezone returns the stored timezone word.
func Timezone() int64 {
	return timeZone
}

// SetEpochTime stores the current epoch time.
func SetEpochTime(t int64) {
	epochTime = t
}

// EpochTime returns the stored epoch time.
func EpochTime() int64 {
	return epochTime
}

// SyncOffset aligns the sub-second offset with the system clock.
func SyncOffset() {
	systemOffset = systemTime % 1000
}
