// Package extern hosts WASM subsystem plugins. A plugin is a directory
// holding a plugin.yaml descriptor and a module built for wasip1 that
// exports bootsync_alloc, bootsync_free, bootsync_list, and bootsync_apply.
// The host instantiates each module into a shared wazero runtime and wires
// two capabilities into it through the env module: host_exec, which runs
// commands through the injected Runner so plugin subprocesses honor
// dry-run recording and remote execution, and host_log, which writes to
// the bootsync log.
package extern

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/wycats/bootsync/pkg/hostexec"
	"github.com/wycats/bootsync/pkg/subsystems/extern/wire"
	"github.com/wycats/bootsync/pkg/telemetry"
)

// HostConfig tunes the plugin runtime.
type HostConfig struct {
	// CallTimeout bounds one plugin call. Defaults to 30s.
	CallTimeout time.Duration

	// MemoryLimitPages caps plugin linear memory in 64KB pages. Defaults
	// to 256 pages (16MB).
	MemoryLimitPages uint32
}

// Host owns the wazero runtime plugin modules instantiate into. Closing
// the host releases every loaded plugin.
type Host struct {
	runtime wazero.Runtime
	runner  hostexec.Runner
	logger  *telemetry.Logger
	timeout time.Duration
}

// NewHost builds the runtime, instantiates WASI, and registers the env
// host module.
func NewHost(ctx context.Context, runner hostexec.Runner, logger *telemetry.Logger, cfg HostConfig) (*Host, error) {
	if logger == nil {
		logger = telemetry.FromContext(ctx)
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = 256
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	h := &Host{
		runtime: runtime,
		runner:  runner,
		logger:  logger.NewComponentLogger("extern"),
		timeout: cfg.CallTimeout,
	}

	builder := runtime.NewHostModuleBuilder("env")
	h.registerHostFunctions(builder)
	if _, err := builder.Instantiate(ctx); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}

	return h, nil
}

// Close releases the runtime and every module instantiated in it.
func (h *Host) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

// registerHostFunctions exports the env functions plugins import.
func (h *Host) registerHostFunctions(builder wazero.HostModuleBuilder) {
	// host_exec(req_ptr, req_len) -> packed response. Request and response
	// are wire.ExecRequest and wire.ExecResponse JSON. The response buffer
	// is allocated with the plugin's own allocator; the plugin frees it. A
	// zero return means the host could not deliver a response at all.
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, reqPtr, reqLen uint32) uint64 {
			input, ok := mod.Memory().Read(reqPtr, reqLen)
			if !ok {
				return 0
			}
			return writeResponse(ctx, mod, h.exec(ctx, mod.Name(), input))
		}).
		Export("host_exec")

	// host_log(level_ptr, level_len, msg_ptr, msg_len)
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, levelPtr, levelLen, msgPtr, msgLen uint32) {
			level, ok := mod.Memory().Read(levelPtr, levelLen)
			if !ok {
				return
			}
			msg, ok := mod.Memory().Read(msgPtr, msgLen)
			if !ok {
				return
			}
			h.log(mod.Name(), string(level), string(msg))
		}).
		Export("host_log")
}

// exec decodes one host_exec request and runs it through the injected
// Runner. Failures become response errors so the plugin sees them instead
// of a trap.
func (h *Host) exec(ctx context.Context, plugin string, input []byte) *wire.ExecResponse {
	var req wire.ExecRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return &wire.ExecResponse{Error: fmt.Sprintf("bad exec request: %v", err)}
	}
	if req.Program == "" {
		return &wire.ExecResponse{Error: "exec request names no program"}
	}

	cmd := hostexec.Command{
		Program: req.Program,
		Args:    req.Args,
		Env:     req.Env,
		Dir:     req.Dir,
		Stdin:   req.Stdin,
	}
	if req.TimeoutMS > 0 {
		cmd.Timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	h.logger.WithField("plugin", plugin).Debugf("host_exec: %s", cmd.String())
	res, err := h.runner.Run(ctx, cmd)
	if err != nil {
		return &wire.ExecResponse{Error: err.Error()}
	}
	return &wire.ExecResponse{
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
	}
}

// log routes one host_log call into the component logger.
func (h *Host) log(plugin, level, msg string) {
	logger := h.logger.WithField("plugin", plugin)
	switch level {
	case "debug":
		logger.Debug(msg)
	case "warn":
		logger.Warn(msg)
	case "error":
		logger.Error(msg)
	default:
		logger.Info(msg)
	}
}

// writeResponse marshals resp into the plugin's memory via its allocator
// and returns the packed pointer.
func writeResponse(ctx context.Context, mod api.Module, resp *wire.ExecResponse) uint64 {
	data, err := json.Marshal(resp)
	if err != nil {
		return 0
	}
	alloc := mod.ExportedFunction(exportAlloc)
	if alloc == nil {
		return 0
	}
	results, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil || len(results) == 0 {
		return 0
	}
	ptr := uint32(results[0])
	if ptr == 0 || !mod.Memory().Write(ptr, data) {
		return 0
	}
	return wire.Pack(ptr, uint32(len(data)))
}
