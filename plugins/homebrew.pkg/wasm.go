//go:build wasip1

package main

import (
	"encoding/json"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/wycats/bootsync/pkg/subsystems/extern/wire"
)

//go:wasmimport env host_exec
func hostExec(reqPtr, reqLen uint32) uint64

//go:wasmimport env host_log
func hostLog(levelPtr, levelLen, msgPtr, msgLen uint32)

// allocs pins buffers handed across the boundary until bootsync_free
// releases them. The collector does not move objects, so the addresses
// stay valid while pinned.
var allocs = map[uint32][]byte{}

//go:wasmexport bootsync_alloc
func allocBuffer(size uint32) uint32 {
	if size == 0 {
		size = 1
	}
	buf := make([]byte, size)
	ptr := uint32(uintptr(unsafe.Pointer(&buf[0])))
	allocs[ptr] = buf
	return ptr
}

//go:wasmexport bootsync_free
func freeBuffer(ptr uint32) {
	delete(allocs, ptr)
}

//go:wasmexport bootsync_list
func listExport(_, _ uint32) uint64 {
	items, err := listInstalled(hostRun)
	if err != nil {
		return packJSON(wire.ListResponse{Error: err.Error()})
	}
	return packJSON(wire.ListResponse{Items: items})
}

//go:wasmexport bootsync_apply
func applyExport(reqPtr, reqLen uint32) uint64 {
	var req wire.ApplyRequest
	if err := json.Unmarshal(view(reqPtr, reqLen), &req); err != nil {
		return packJSON(wire.ApplyResponse{Error: fmt.Sprintf("bad apply request: %v", err)})
	}
	if err := applyChange(hostRun, req); err != nil {
		return packJSON(wire.ApplyResponse{Error: err.Error()})
	}
	return packJSON(wire.ApplyResponse{})
}

func init() {
	logf = func(level, format string, args ...any) {
		lvl := []byte(level)
		msg := []byte(fmt.Sprintf(format, args...))
		hostLog(bufPtr(lvl), uint32(len(lvl)), bufPtr(msg), uint32(len(msg)))
		runtime.KeepAlive(lvl)
		runtime.KeepAlive(msg)
	}
}

// hostRun sends one command to the host and decodes the reply. The host
// writes the response through bootsync_alloc, so the buffer is pinned
// until it is copied out here.
func hostRun(program string, args ...string) (*wire.ExecResponse, error) {
	req, err := json.Marshal(wire.ExecRequest{Program: program, Args: args})
	if err != nil {
		return nil, err
	}
	packed := hostExec(bufPtr(req), uint32(len(req)))
	runtime.KeepAlive(req)
	if packed == 0 {
		return nil, fmt.Errorf("host_exec delivered no response")
	}
	ptr, length := wire.Unpack(packed)
	data := append([]byte(nil), view(ptr, length)...)
	freeBuffer(ptr)

	var resp wire.ExecResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("bad host_exec response: %v", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return &resp, nil
}

// view reinterprets a linear memory range as a byte slice without copying.
func view(ptr, length uint32) []byte {
	if length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length)
}

func bufPtr(data []byte) uint32 {
	if len(data) == 0 {
		return 0
	}
	return uint32(uintptr(unsafe.Pointer(&data[0])))
}

// packJSON marshals a response into a pinned buffer and packs its
// location. The host copies it out and calls bootsync_free.
func packJSON(resp any) uint64 {
	data, err := json.Marshal(resp)
	if err != nil || len(data) == 0 {
		return 0
	}
	ptr := allocBuffer(uint32(len(data)))
	copy(allocs[ptr], data)
	return wire.Pack(ptr, uint32(len(data)))
}
