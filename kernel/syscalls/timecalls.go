package syscalls

import (
	"los/kernel"
	"los/kernel/time"
)

func timeCall(code uintptr, arg1, arg2, arg3, arg4, arg5 uintptr) (int64, *kernel.Error) {
	switch code {
	case SysSleep:
		time.Sleep(uint64(arg1))
		if interrupted() {
			return 0, errInterrupted
		}
		return 0, nil

	case SysSetAlarm:
		time.SetAlarm(uint64(arg1))
		return 0, nil

	case SysGetSystemTime:
		return int64(time.CurrentTimeMillis()), nil

	case SysGetEpochTime:
		return time.EpochTime(), nil

	case SysSetTimezone:
		time.SetTimezone(int64(arg1), arg2 != 0)
		return 0, nil

	case SysGetTimezone:
		return time.Timezone(), nil
	}

	return 0, errInvalidCode
}
