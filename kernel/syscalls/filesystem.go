package syscalls

import (
	"los/kernel"
	"los/kernel/proc"
)

// Open flags accepted by SysOpenFile.
const (
	OpenRead   = uintptr(1 << 0)
	OpenWrite  = uintptr(1 << 1)
	OpenCreate = uintptr(1 << 2)
)

// Seek origins accepted by SysSeekFile.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// FileHandle is an open file the filesystem collaborator hands back.
type FileHandle interface {
	Read(buf []byte) (int, *kernel.Error)
	Write(data []byte) (int, *kernel.Error)
	Seek(offset int64, origin int) (int64, *kernel.Error)
	Close()
}

// DirectoryEntry is one row of a directory read.
type DirectoryEntry struct {
	Name      string
	Directory bool
	Size      int64
}

// DirectoryHandle is an open directory iterator.
type DirectoryHandle interface {
	Next() (*DirectoryEntry, *kernel.Error)
	Close()
}

// FilesystemProvider is the out-of-scope filesystem driver surface the
// gateway delegates to.
type FilesystemProvider interface {
	OpenFile(path string, flags uintptr) (FileHandle, *kernel.Error)
	OpenDirectory(path string) (DirectoryHandle, *kernel.Error)
}

var filesystemProvider FilesystemProvider

// SetFilesystemProvider registers the filesystem driver.
func SetFilesystemProvider(p FilesystemProvider) {
	filesystemProvider = p
}

func filesystemCall(code uintptr, arg1, arg2, arg3, arg4, arg5 uintptr) (int64, *kernel.Error) {
	if filesystemProvider == nil {
		return 0, errNoProvider
	}
	descriptors := &proc.CurrentProcess().Descriptors

	switch code {
	case SysOpenFile:
		path, err := readUserString(arg1)
		if err != nil {
			return 0, err
		}
		file, err := filesystemProvider.OpenFile(path, arg2)
		if err != nil {
			return 0, err
		}
		return descriptors.Files.Insert(file), nil

	case SysCloseFile:
		handle, ok := descriptors.Files.Remove(int64(arg1))
		if !ok {
			return 0, errBadDescriptor
		}
		handle.(FileHandle).Close()
		return 0, nil

	case SysReadFile:
		handle, ok := descriptors.Files.Get(int64(arg1))
		if !ok {
			return 0, errBadDescriptor
		}
		if err := validateRange(arg2, arg3); err != nil {
			return 0, err
		}

		buf := make([]byte, arg3)
		n, err := handle.(FileHandle).Read(buf)
		if err != nil {
			return 0, err
		}
		if err := writeUserBytes(arg2, buf[:n]); err != nil {
			return 0, err
		}
		return int64(n), nil

	case SysWriteFile:
		handle, ok := descriptors.Files.Get(int64(arg1))
		if !ok {
			return 0, errBadDescriptor
		}
		data, err := readUserBytes(arg2, arg3)
		if err != nil {
			return 0, err
		}
		n, err := handle.(FileHandle).Write(data)
		if err != nil {
			return 0, err
		}
		return int64(n), nil

	case SysSeekFile:
		handle, ok := descriptors.Files.Get(int64(arg1))
		if !ok {
			return 0, errBadDescriptor
		}
		pos, err := handle.(FileHandle).Seek(int64(arg2), int(arg3))
		if err != nil {
			return 0, err
		}
		return pos, nil

	case SysOpenDirectory:
		path, err := readUserString(arg1)
		if err != nil {
			return 0, err
		}
		dir, err := filesystemProvider.OpenDirectory(path)
		if err != nil {
			return 0, err
		}
		return descriptors.Directories.Insert(dir), nil

	case SysReadDirectory:
		handle, ok := descriptors.Directories.Get(int64(arg1))
		if !ok {
			return 0, errBadDescriptor
		}
		entry, err := handle.(DirectoryHandle).Next()
		if err != nil {
			return 0, err
		}
		if entry == nil {
			return 0, nil
		}
		if uintptr(len(entry.Name))+1 > arg3 {
			return 0, errOutOfRangeErr
		}
		if err := writeUserBytes(arg2, append([]byte(entry.Name), 0)); err != nil {
			return 0, err
		}
		return int64(len(entry.Name)), nil
	}

	return 0, errInvalidCode
}

// DeviceProvider is the driver surface deviceCall delegates the device range
// to.
type DeviceProvider interface {
	Open(path string) (int64, *kernel.Error)
	Close(id int64) *kernel.Error
	Read(id int64, offset uintptr, buf []byte) (int, *kernel.Error)
	Write(id int64, offset uintptr, data []byte) (int, *kernel.Error)
	IOControl(id int64, request uintptr, arg uintptr) (int64, *kernel.Error)
}

var deviceProvider DeviceProvider

// SetDeviceProvider registers the device tree surface.
func SetDeviceProvider(p DeviceProvider) {
	deviceProvider = p
}

func deviceCall(code uintptr, arg1, arg2, arg3, arg4, arg5 uintptr) (int64, *kernel.Error) {
	if deviceProvider == nil {
		return 0, errNoProvider
	}

	switch code {
	case SysOpenDevice:
		path, err := readUserString(arg1)
		if err != nil {
			return 0, err
		}
		return deviceProvider.Open(path)

	case SysCloseDevice:
		if err := deviceProvider.Close(int64(arg1)); err != nil {
			return 0, err
		}
		return 0, nil

	case SysReadDevice:
		if err := validateRange(arg3, arg4); err != nil {
			return 0, err
		}
		buf := make([]byte, arg4)
		n, err := deviceProvider.Read(int64(arg1), arg2, buf)
		if err != nil {
			return 0, err
		}
		if err := writeUserBytes(arg3, buf[:n]); err != nil {
			return 0, err
		}
		return int64(n), nil

	case SysWriteDevice:
		data, err := readUserBytes(arg3, arg4)
		if err != nil {
			return 0, err
		}
		n, err := deviceProvider.Write(int64(arg1), arg2, data)
		if err != nil {
			return 0, err
		}
		return int64(n), nil

	case SysIOControl:
		return deviceProvider.IOControl(int64(arg1), arg2, arg3)
	}

	return 0, errInvalidCode
}
