// Package config loads the bootsync tool configuration and user capture
// hooks.
//
// # Overview
//
// Configuration lives at <config>/bootsync/config.yaml and is plain YAML:
// paths, log settings, per-subsystem options, policy and review toggles.
// Every field has a default derived from the XDG base directories, so a
// missing file yields a fully working configuration.
//
// # Components
//
// Config: the parsed tool configuration. Struct tags carry the YAML names
// and validation rules; Load applies defaults, environment overrides, and
// validation in one step.
//
// CaptureHook: an optional Starlark filter loaded from
// <config>/bootsync/hooks.star. When the file defines
// capture_filter(subsystem, id, attrs), capture planning consults it per
// discovered item and drops items it rejects.
//
// # Usage Example
//
//	env := hostenv.NewOS()
//	cfg, err := config.Load(env)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	hook, err := config.LoadCaptureHook(env, cfg.Capture.HooksPath, cfg.Capture.HookTimeout)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if hook != nil {
//	    keep, err := hook.Keep("flatpak", "org.gnome.Maps", attrs)
//	    ...
//	}
//
// # Security
//
// Starlark execution is sandboxed:
//   - No filesystem access
//   - No network access
//   - Timeout enforcement (default 10 seconds)
//   - Print statements suppressed
package config
