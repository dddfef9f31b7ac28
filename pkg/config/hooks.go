package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/wycats/bootsync/pkg/hostenv"
)

// hookFunction is the well-known name a hooks file must define.
const hookFunction = "capture_filter"

// hookThread builds a Starlark thread for hook evaluation. Print output is
// discarded; a hook communicates only through its return value.
func hookThread() *starlark.Thread {
	return &starlark.Thread{
		Name:  "bootsync",
		Print: func(_ *starlark.Thread, _ string) {},
	}
}

// CaptureHook is a user-supplied Starlark filter over captured items.
type CaptureHook struct {
	source  string
	fn      starlark.Callable
	timeout time.Duration
}

// LoadCaptureHook loads the hooks file at path. A missing file, or a file
// that does not define capture_filter, yields a nil hook and no error.
func LoadCaptureHook(env hostenv.Environment, path string, timeout time.Duration) (*CaptureHook, error) {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	data, err := env.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read hooks file %s: %w", path, err)
	}

	thread := hookThread()

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}

	globals, err := starlark.ExecFile(thread, filepath.Base(path), data, predeclared)
	if err != nil {
		return nil, fmt.Errorf("failed to load hooks file %s: %w", path, err)
	}

	val, ok := globals[hookFunction]
	if !ok {
		return nil, nil
	}

	fn, ok := val.(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%s in %s is not callable", hookFunction, path)
	}

	return &CaptureHook{
		source:  filepath.Base(path),
		fn:      fn,
		timeout: timeout,
	}, nil
}

// Keep reports whether a captured item should stay in the capture plan.
func (h *CaptureHook) Keep(ctx context.Context, subsystem, id string, attrs json.RawMessage) (bool, error) {
	attrsVal, err := attrsToStarlark(attrs)
	if err != nil {
		return false, fmt.Errorf("failed to convert attrs for %s: %w", id, err)
	}

	evalCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	thread := hookThread()

	resultCh := make(chan starlark.Value, 1)
	errCh := make(chan error, 1)

	go func() {
		args := starlark.Tuple{
			starlark.String(subsystem),
			starlark.String(id),
			attrsVal,
		}
		result, err := starlark.Call(thread, h.fn, args, nil)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel("timeout")
		return false, fmt.Errorf("%s timed out after %v", hookFunction, h.timeout)
	case err := <-errCh:
		return false, fmt.Errorf("%s failed: %w", hookFunction, err)
	case result := <-resultCh:
		b, ok := result.(starlark.Bool)
		if !ok {
			return false, fmt.Errorf("%s must return a bool, got %s", hookFunction, result.Type())
		}
		return bool(b), nil
	}
}

// attrsToStarlark converts a JSON attribute blob to a Starlark dict.
func attrsToStarlark(attrs json.RawMessage) (starlark.Value, error) {
	decoded := make(map[string]interface{})
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &decoded); err != nil {
			return nil, err
		}
	}
	return toStarlarkValue(decoded)
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}
