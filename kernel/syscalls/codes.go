package syscalls

// System call codes, dispatched by range.
const (
	// Process calls: 0x0000 - 0x0FFF.
	SysExitProcess         = 0x0000
	SysWaitProcess         = 0x0001
	SysExecute             = 0x0002
	SysGetPID              = 0x0003
	SysKillProcess         = 0x0004
	SysGetWorkingDirectory = 0x0005
	SysSetWorkingDirectory = 0x0006
	SysGetProcessTime      = 0x0007

	// Thread calls: 0x1000 - 0x1FFF.
	SysExitThread   = 0x1000
	SysCreateThread = 0x1001
	SysWaitThread   = 0x1002
	SysGetTID       = 0x1003
	SysKillThread   = 0x1004
	SysSetTLSBase   = 0x1005

	// Filesystem calls: 0x2000 - 0x2FFF.
	SysOpenFile      = 0x2000
	SysCloseFile     = 0x2001
	SysReadFile      = 0x2002
	SysWriteFile     = 0x2003
	SysSeekFile      = 0x2004
	SysOpenDirectory = 0x2005
	SysReadDirectory = 0x2006

	// Console calls: 0x3000 - 0x3FFF.
	SysConsoleWrite = 0x3000

	// Event calls: 0x4000 - 0x4FFF.
	SysPeekEvent = 0x4000
	SysPollEvent = 0x4001

	// Time calls: 0x5000 - 0x5FFF.
	SysSleep         = 0x5000
	SysSetAlarm      = 0x5001
	SysGetSystemTime = 0x5002
	SysGetEpochTime  = 0x5003
	SysSetTimezone   = 0x5004
	SysGetTimezone   = 0x5005

	// Device calls: 0x6000 - 0x6FFF.
	SysOpenDevice  = 0x6000
	SysCloseDevice = 0x6001
	SysReadDevice  = 0x6002
	SysWriteDevice = 0x6003
	SysIOControl   = 0x6004

	// Memory calls: 0x7000 - 0x7FFF.
	SysMapMemory   = 0x7000
	SysUnmapMemory = 0x7001

	// Session calls: 0x8000 - 0x8FFF.
	SysGetSessionID        = 0x8000
	SysGetSessionProcesses = 0x8001

	// Signal calls: 0x9000 - 0x9FFF.
	SysRaiseSignal      = 0x9000
	SysSetSignalHandler = 0x9001
	SysSetSignalMask    = 0x9002
	SysSignalReturn     = 0x9003

	// Pipe calls: 0xA000 - 0xAFFF.
	SysCreatePipe      = 0xA000
	SysReadPipe        = 0xA001
	SysWritePipe       = 0xA002
	SysClosePipeReader = 0xA003
	SysClosePipeWriter = 0xA004

	// Mutex calls: 0xB000 - 0xBFFF.
	SysCreateMutex  = 0xB000
	SysLockMutex    = 0xB001
	SysTryLockMutex = 0xB002
	SysUnlockMutex  = 0xB003
	SysDestroyMutex = 0xB004

	// Condition variable calls: 0xC000 - 0xCFFF.
	SysCreateCondVar    = 0xC000
	SysWaitCondVar      = 0xC001
	SysSignalCondVar    = 0xC002
	SysBroadcastCondVar = 0xC003
	SysDestroyCondVar   = 0xC004
)
