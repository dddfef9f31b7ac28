package extern

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wycats/bootsync/pkg/engine"
	"github.com/wycats/bootsync/pkg/manifest"
	"github.com/wycats/bootsync/pkg/subsystems/extern/wire"
)

// Export names every plugin module must provide.
const (
	exportAlloc = "bootsync_alloc"
	exportFree  = "bootsync_free"
	exportList  = "bootsync_list"
	exportApply = "bootsync_apply"
)

// Plugin is one instantiated WASM subsystem module.
type Plugin struct {
	desc    Descriptor
	module  api.Module
	memory  api.Memory
	alloc   api.Function
	free    api.Function
	list    api.Function
	apply   api.Function
	timeout time.Duration
}

// Load instantiates a module under the descriptor's name and resolves its
// exports. Modules built with -buildmode=c-shared export _initialize
// instead of _start, so that is the start function used.
func (h *Host) Load(ctx context.Context, desc Descriptor, wasmModule []byte) (*Plugin, error) {
	moduleConfig := wazero.NewModuleConfig().
		WithName(desc.Name).
		WithStartFunctions("_initialize")
	module, err := h.runtime.InstantiateWithConfig(ctx, wasmModule, moduleConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate plugin %s: %w", desc.Name, err)
	}

	p := &Plugin{desc: desc, module: module, timeout: h.timeout}

	p.memory = module.Memory()
	if p.memory == nil {
		module.Close(ctx)
		return nil, fmt.Errorf("plugin %s exports no memory", desc.Name)
	}

	exports := []struct {
		name string
		fn   *api.Function
	}{
		{exportAlloc, &p.alloc},
		{exportFree, &p.free},
		{exportList, &p.list},
		{exportApply, &p.apply},
	}
	for _, export := range exports {
		f := module.ExportedFunction(export.name)
		if f == nil {
			module.Close(ctx)
			return nil, fmt.Errorf("plugin %s does not export %s", desc.Name, export.name)
		}
		*export.fn = f
	}

	return p, nil
}

// Name returns the subsystem id the plugin registers under.
func (p *Plugin) Name() string { return p.desc.Name }

// Tier returns the lifecycle model declared in the descriptor.
func (p *Plugin) Tier() engine.Tier { return p.desc.EngineTier() }

// Phase returns the sync ordering bucket declared in the descriptor.
func (p *Plugin) Phase() engine.Phase { return p.desc.EnginePhase() }

// List asks the plugin for the items currently present on the host.
func (p *Plugin) List(ctx context.Context) ([]manifest.Item, error) {
	out, err := p.call(ctx, exportList, p.list, nil)
	if err != nil {
		return nil, err
	}

	var resp wire.ListResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s response: %w", exportList, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("plugin %s list failed: %s", p.desc.Name, resp.Error)
	}

	items := make([]manifest.Item, 0, len(resp.Items))
	for _, item := range resp.Items {
		items = append(items, manifest.Item{ID: item.ID, Attrs: item.Attrs})
	}
	return items, nil
}

// Apply asks the plugin to perform one action on one item.
func (p *Plugin) Apply(ctx context.Context, req wire.ApplyRequest) error {
	input, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal apply request: %w", err)
	}

	out, err := p.call(ctx, exportApply, p.apply, input)
	if err != nil {
		return err
	}

	var resp wire.ApplyResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return fmt.Errorf("failed to unmarshal %s response: %w", exportApply, err)
	}
	if resp.Error != "" {
		return fmt.Errorf("plugin %s could not %s %s: %s", p.desc.Name, req.Action, req.ItemID, resp.Error)
	}
	return nil
}

// Close releases the plugin's module instance.
func (p *Plugin) Close(ctx context.Context) error {
	return p.module.Close(ctx)
}

// call invokes one exported function with JSON in and out. The input
// buffer is allocated in plugin memory and freed after the call; the
// output buffer was allocated by the plugin and is freed once copied out.
func (p *Plugin) call(ctx context.Context, name string, fn api.Function, input []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var inputPtr, inputLen uint32
	if len(input) > 0 {
		results, err := p.alloc.Call(ctx, uint64(len(input)))
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w", exportAlloc, err)
		}
		if len(results) == 0 || uint32(results[0]) == 0 {
			return nil, fmt.Errorf("%s returned no memory", exportAlloc)
		}
		inputPtr = uint32(results[0])
		inputLen = uint32(len(input))
		defer p.free.Call(ctx, uint64(inputPtr))

		if !p.memory.Write(inputPtr, input) {
			return nil, fmt.Errorf("failed to write input to plugin memory")
		}
	}

	results, err := fn.Call(ctx, uint64(inputPtr), uint64(inputLen))
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", name, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%s returned no result", name)
	}

	outputPtr, outputLen := wire.Unpack(results[0])
	if outputLen == 0 {
		return []byte("{}"), nil
	}
	view, ok := p.memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, fmt.Errorf("failed to read %s output from plugin memory", name)
	}
	// The view aliases plugin memory, so copy before freeing.
	output := append([]byte(nil), view...)
	p.free.Call(ctx, uint64(outputPtr))
	return output, nil
}
