/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package store

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/launix-de/NonLockingReadMap"
	"github.com/launix-de/redislua/lua"
)

// cachedScript is the unit ScriptCache stores, keyed by its SHA1 digest.
// EVALSHA (lua.ScriptNotFoundError's happy path) never recompiles a
// script, it only ever resolves this cache.
type cachedScript struct {
	sha1hex string
	module  *lua.Module
}

func (c cachedScript) GetKey() string { return c.sha1hex }

// ComputeSize satisfies NonLockingReadMap.Sizable; the reference
// implementation (storage/transaction.go) uses real byte accounting for
// its snapshot bitmap, so this estimates the module's footprint the same
// way rather than reporting a constant.
func (c cachedScript) ComputeSize() uint {
	sz := uint(len(c.sha1hex)) + 16
	if c.module != nil {
		sz += uint(len(c.module.SourceName))
		for _, s := range c.module.StringPool {
			sz += uint(len(s))
		}
	}
	return sz
}

// ScriptCache maps a script's SHA1 digest to its compiled Module (§4.K),
// read far more often (every EVALSHA) than written (every SCRIPT LOAD or
// first-seen EVAL), which is exactly the access pattern
// NonLockingReadMap is built for (storage/transaction.go's Bitmap field
// uses the same collection for the same reason).
type ScriptCache struct {
	m       NonLockingReadMap.NonLockingReadMap[cachedScript, string]
	backend ScriptStoreBackend
}

// NewScriptCache creates an empty cache optionally backed by a durable
// ScriptStoreBackend; backend may be nil, in which case the cache holds
// scripts only for the lifetime of the process.
func NewScriptCache(backend ScriptStoreBackend) *ScriptCache {
	return &ScriptCache{m: NonLockingReadMap.New[cachedScript, string](), backend: backend}
}

// Put registers module under module.SHA1 (or, when that is empty, under the
// SHA1 of module.SourceName, which it then stores in module.SHA1), and
// persists it through the configured backend if any.
func (c *ScriptCache) Put(module *lua.Module) (string, error) {
	sha1hex := module.SHA1
	if sha1hex == "" {
		sum := sha1.Sum([]byte(module.SourceName))
		sha1hex = hex.EncodeToString(sum[:])
		module.SHA1 = sha1hex
	}
	c.m.Set(&cachedScript{sha1hex: sha1hex, module: module})
	if c.backend != nil {
		return sha1hex, c.backend.Store(sha1hex, encodeModule(module))
	}
	return sha1hex, nil
}

// Lookup implements lua.ModuleLookup (§6): it first checks the in-memory
// cache, then falls back to the durable backend on a cold miss, repopulating
// the in-memory cache so subsequent lookups stay fast.
func (c *ScriptCache) Lookup(sha1hex string) (*lua.Module, bool, error) {
	if cs := c.m.Get(sha1hex); cs != nil {
		return cs.module, true, nil
	}
	if c.backend == nil {
		return nil, false, nil
	}
	blob, ok, err := c.backend.Load(sha1hex)
	if err != nil || !ok {
		return nil, false, err
	}
	module, err := decodeModule(blob)
	if err != nil {
		return nil, false, err
	}
	module.SHA1 = sha1hex
	c.m.Set(&cachedScript{sha1hex: sha1hex, module: module})
	return module, true, nil
}

// Flush persists every in-memory script through the backend; registered
// with onexit by Engine.WithScriptCache (storage/settings.go's own
// onexit.Register pattern) so a process shutdown never silently drops a
// script that was only ever EVALed, never explicitly SCRIPT LOADed.
func (c *ScriptCache) Flush() error {
	if c.backend == nil {
		return nil
	}
	for _, cs := range c.m.GetAll() {
		if err := c.backend.Store(cs.sha1hex, encodeModule(cs.module)); err != nil {
			return err
		}
	}
	return nil
}
