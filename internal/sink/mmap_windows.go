// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package sink

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

type windowsMapping struct {
	handle windows.Handle
	addr   uintptr
}

var mappings = map[uintptr]windowsMapping{}

func mmapRegion(f *os.File, size int64) ([]byte, error) {
	h, err := windows.CreateFileMapping(windows.Handle(f.Fd()), nil, windows.PAGE_READWRITE, uint32(size>>32), uint32(size), nil)
	if err != nil {
		return nil, fmt.Errorf("CreateFileMapping: %w", err)
	}
	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(h)
		return nil, fmt.Errorf("MapViewOfFile: %w", err)
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	mappings[addr] = windowsMapping{handle: h, addr: addr}
	return data, nil
}

func msyncRegion(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&data[0]))
	if err := windows.FlushViewOfFile(addr, uintptr(len(data))); err != nil {
		return fmt.Errorf("FlushViewOfFile: %w", err)
	}
	return nil
}

func munmapRegion(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&data[0]))
	m, ok := mappings[addr]
	if !ok {
		return fmt.Errorf("munmap: unknown mapping")
	}
	delete(mappings, addr)
	if err := windows.UnmapViewOfFile(addr); err != nil {
		return fmt.Errorf("UnmapViewOfFile: %w", err)
	}
	return windows.CloseHandle(m.handle)
}
