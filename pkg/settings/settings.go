/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package settings is a small typed configuration-parameter registry for
// engine-wide policy defaults (max_rejects, backoff_period, hwm/lwm, ...).
// Each parameter is declared once per Registry with a default
// value and an optional change callback, and can subsequently be updated
// from a persisted-configuration snapshot by name.
package settings

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// ChangeFunc is invoked, if non-nil, whenever a setting's value changes.
type ChangeFunc func(name, val string) error

type settingType interface {
	Set(string) error
	String() string
	Reset()
}

type setting struct {
	name     string
	val      settingType
	defval   string
	dynamic  bool
	callback ChangeFunc
}

// Registry holds a set of named, typed settings. The zero value is ready
// to use.
type Registry struct {
	mu       sync.Mutex
	settings map[string]*setting
}

// NewRegistry allocates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{settings: make(map[string]*setting)}
}

func (r *Registry) register(name string, s settingType, dynamic bool, cb ChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settings == nil {
		r.settings = make(map[string]*setting)
	}
	if _, ok := r.settings[name]; ok {
		panic(fmt.Sprintf("settings: duplicate setting %q", name))
	}
	r.settings[name] = &setting{
		name:     name,
		val:      s,
		defval:   s.String(),
		dynamic:  dynamic,
		callback: cb,
	}
}

// boolSetting, intSetting, stringSetting, durationSetting each hold a
// pointer to the live value plus its default, so Reset() can restore it.
type boolSetting struct {
	val    *bool
	defval bool
}

func (b boolSetting) Set(val string) error {
	x, err := strconv.ParseBool(val)
	if err == nil {
		*b.val = x
	}
	return err
}
func (b boolSetting) String() string { return strconv.FormatBool(*b.val) }
func (b boolSetting) Reset()         { *b.val = b.defval }

type intSetting struct {
	val    *int
	defval int
}

func (i intSetting) Set(val string) error {
	x, err := strconv.Atoi(val)
	if err == nil {
		*i.val = x
	}
	return err
}
func (i intSetting) String() string { return strconv.Itoa(*i.val) }
func (i intSetting) Reset()         { *i.val = i.defval }

type stringSetting struct {
	val    *string
	defval string
}

func (s stringSetting) Set(val string) error { *s.val = val; return nil }
func (s stringSetting) String() string       { return *s.val }
func (s stringSetting) Reset()               { *s.val = s.defval }

type durationSetting struct {
	val    *time.Duration
	defval time.Duration
}

func (d durationSetting) Set(val string) error {
	x, err := time.ParseDuration(val)
	if err == nil {
		*d.val = x
	}
	return err
}
func (d durationSetting) String() string { return d.val.String() }
func (d durationSetting) Reset()         { *d.val = d.defval }

// Bool registers a boolean setting and returns a pointer to its live value.
func (r *Registry) Bool(name string, defval bool, dynamic bool, cb ChangeFunc) *bool {
	val := defval
	r.register(name, boolSetting{val: &val, defval: defval}, dynamic, cb)
	return &val
}

// Int registers an integer setting and returns a pointer to its live value.
func (r *Registry) Int(name string, defval int, dynamic bool, cb ChangeFunc) *int {
	val := defval
	r.register(name, intSetting{val: &val, defval: defval}, dynamic, cb)
	return &val
}

// String registers a string setting and returns a pointer to its live value.
func (r *Registry) String(name string, defval string, dynamic bool, cb ChangeFunc) *string {
	val := defval
	r.register(name, stringSetting{val: &val, defval: defval}, dynamic, cb)
	return &val
}

// Duration registers a time.Duration setting and returns a pointer to its
// live value.
func (r *Registry) Duration(name string, defval time.Duration, dynamic bool, cb ChangeFunc) *time.Duration {
	val := defval
	r.register(name, durationSetting{val: &val, defval: defval}, dynamic, cb)
	return &val
}

// Update changes the named setting to val, invoking its change callback
// first; if the callback fails the value is left unchanged.
func (r *Registry) Update(name, val string) error {
	r.mu.Lock()
	s, ok := r.settings[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("settings: unrecognized setting %q", name)
	}
	if !s.dynamic {
		return fmt.Errorf("settings: %q is not dynamic", name)
	}
	if s.callback != nil {
		if err := s.callback(s.name, val); err != nil {
			return err
		}
	}
	return s.val.Set(val)
}

// Reset restores the named setting to its default value.
func (r *Registry) Reset(name string) error {
	r.mu.Lock()
	s, ok := r.settings[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("settings: unrecognized setting %q", name)
	}
	s.val.Reset()
	if s.callback != nil {
		return s.callback(s.name, s.defval)
	}
	return nil
}

// Get returns the current string representation of a setting.
func (r *Registry) Get(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.settings[name]
	if !ok {
		return "", false
	}
	return s.val.String(), true
}

// Names returns the names of all registered settings.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.settings))
	for n := range r.settings {
		names = append(names, n)
	}
	return names
}
