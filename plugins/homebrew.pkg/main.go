// Package main implements the homebrew plugin for bootsync. It manages
// Homebrew formulae and casks through the host_exec import and compiles to
// a WASM module for the plugin host:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o homebrew.wasm .
//
// The WASM glue lives in wasm.go; this file holds the portable logic so it
// can be tested without a WASM runtime.
package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wycats/bootsync/pkg/subsystems/extern/wire"
)

// execFunc runs one command on the host. The WASM build wires this to the
// host_exec import; tests substitute a fake.
type execFunc func(program string, args ...string) (*wire.ExecResponse, error)

// logf is wired to the host logger in the WASM build.
var logf = func(level, format string, args ...any) {}

// brewAttrs is the attribute document for one homebrew item. A formula has
// no attributes; a cask carries {"cask": true}.
type brewAttrs struct {
	Cask bool `json:"cask,omitempty"`
}

var caskAttrs = json.RawMessage(`{"cask":true}`)

// listInstalled reports every installed formula and cask.
func listInstalled(run execFunc) ([]wire.Item, error) {
	res, err := run("brew", "list", "--formula", "-1")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("brew list exited with code %d: %s", res.ExitCode, stderrTail(res.Stderr))
	}
	var items []wire.Item
	for _, name := range lines(res.Stdout) {
		items = append(items, wire.Item{ID: name})
	}

	res, err = run("brew", "list", "--cask", "-1")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		// Linux installs have no cask support.
		logf("debug", "cask listing unavailable: %s", stderrTail(res.Stderr))
		return items, nil
	}
	for _, name := range lines(res.Stdout) {
		items = append(items, wire.Item{ID: name, Attrs: caskAttrs})
	}
	return items, nil
}

// applyChange performs one action on one item.
func applyChange(run execFunc, req wire.ApplyRequest) error {
	var attrs brewAttrs
	if len(req.Attrs) > 0 {
		if err := json.Unmarshal(req.Attrs, &attrs); err != nil {
			return fmt.Errorf("bad attrs for %s: %v", req.ItemID, err)
		}
	}

	switch req.Action {
	case "add":
		return brewRun(run, installArgs(req.ItemID, attrs.Cask)...)
	case "update":
		// The cask flag is the only attribute, so an update is always a
		// formula/cask flip: drop the old form, install the declared one.
		if err := brewRun(run, uninstallArgs(req.ItemID, !attrs.Cask)...); err != nil {
			return err
		}
		return brewRun(run, installArgs(req.ItemID, attrs.Cask)...)
	case "remove":
		return brewRun(run, uninstallArgs(req.ItemID, attrs.Cask)...)
	default:
		return fmt.Errorf("unknown action %q", req.Action)
	}
}

func installArgs(name string, cask bool) []string {
	if cask {
		return []string{"install", "--cask", name}
	}
	return []string{"install", name}
}

func uninstallArgs(name string, cask bool) []string {
	if cask {
		return []string{"uninstall", "--cask", name}
	}
	return []string{"uninstall", name}
}

// brewRun executes brew and turns a non-zero exit into an error.
func brewRun(run execFunc, args ...string) error {
	res, err := run("brew", args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("brew %s exited with code %d: %s", args[0], res.ExitCode, stderrTail(res.Stderr))
	}
	return nil
}

// lines splits command output into trimmed, non-empty lines.
func lines(output []byte) []string {
	var out []string
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// stderrTail returns the last non-empty stderr line.
func stderrTail(stderr []byte) string {
	all := lines(stderr)
	if len(all) == 0 {
		return "(no stderr)"
	}
	return all[len(all)-1]
}

// main is never called: the module is built as a reactor and the host
// drives the bootsync_* exports.
func main() {}
