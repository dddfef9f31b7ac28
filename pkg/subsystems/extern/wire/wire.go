// Package wire defines the JSON shapes and pointer packing shared between
// the plugin host and the WASM modules it runs. Plugins link this package
// into their wasip1 build, so it depends on nothing but the standard
// library.
//
// Every guest export and host function moves data the same way: the caller
// writes a JSON request into the callee's linear memory and passes a
// pointer and length; the callee returns a single u64 packing the pointer
// and length of a JSON response it allocated. The receiving side copies the
// response out and frees the buffer with the plugin's allocator.
package wire

import "encoding/json"

// Item is one unit of external state a plugin reports.
type Item struct {
	// ID is the stable item identifier within the plugin's subsystem.
	ID string `json:"id"`

	// Attrs is the item's attribute document, or empty when the item's
	// presence is its whole state.
	Attrs json.RawMessage `json:"attrs,omitempty"`
}

// ListResponse is the reply to the bootsync_list export.
type ListResponse struct {
	Items []Item `json:"items"`
	Error string `json:"error,omitempty"`
}

// ApplyRequest asks the plugin to perform one action on one item.
type ApplyRequest struct {
	// ItemID names the item to act on.
	ItemID string `json:"item_id"`

	// Action is add, update, or remove.
	Action string `json:"action"`

	// Attrs is the declared attribute document for add and update, and the
	// observed one for remove.
	Attrs json.RawMessage `json:"attrs,omitempty"`
}

// ApplyResponse is the reply to the bootsync_apply export. An empty Error
// means the action succeeded.
type ApplyResponse struct {
	Error string `json:"error,omitempty"`
}

// ExecRequest is the payload a plugin passes to the host_exec import to run
// a command on the host.
type ExecRequest struct {
	Program   string            `json:"program"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Dir       string            `json:"dir,omitempty"`
	Stdin     []byte            `json:"stdin,omitempty"`
	TimeoutMS int64             `json:"timeout_ms,omitempty"`
}

// ExecResponse is the host_exec reply. Error is set when the command could
// not be run at all; a command that ran and exited non-zero reports through
// ExitCode with Error empty.
type ExecResponse struct {
	Stdout   []byte `json:"stdout,omitempty"`
	Stderr   []byte `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// Pack encodes a pointer and length into the single u64 return value used
// across the boundary: pointer in the upper 32 bits, length in the lower.
func Pack(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

// Unpack splits a packed u64 back into pointer and length.
func Unpack(packed uint64) (ptr, length uint32) {
	return uint32(packed >> 32), uint32(packed & 0xFFFFFFFF)
}
