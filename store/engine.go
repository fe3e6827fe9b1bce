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

// Package store implements the small keyspace engine redis.call dispatches
// into: a from-scratch, in-memory database sized to back EVAL/EVALSHA, not
// the teacher's column-oriented SQL storage engine. The btree-indexed
// ordered keyspace and the RWMutex/background-sweeper shape are grounded on
// storage/index.go and storage/compute.go.
package store

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dc0d/onexit"
	"github.com/google/btree"
	"github.com/jtolds/gls"

	"github.com/launix-de/redislua/lua"
)

// entry is one keyspace slot. Only strings are modeled (§4.J): redis.call's
// contract with scripts never needs lists/sets/hashes for this runtime.
type entry struct {
	key      string
	value    string
	expireAt time.Time // zero means no TTL
}

func lessEntry(a, b *entry) bool { return a.key < b.key }

// Engine is the in-memory keyspace a CommandTable dispatches commands
// against. One Engine is normally shared by every script evaluation in a
// process, the same way the teacher shares one *Database across queries.
type Engine struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[*entry]

	// Monitor, if non-nil, receives one MonitorEvent per Dispatch call,
	// mirroring Redis's own MONITOR command.
	Monitor *Monitor
	// Scripts, if non-nil, is flushed to its durable backend on process
	// exit (see WithScriptCache), the way storage/settings.go registers
	// an onexit hook to close the trace file.
	Scripts *ScriptCache

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// NewEngine creates an empty keyspace and starts its background expiry
// sweeper. The sweeper is launched through gls.Go the way
// storage/compute.go launches its worker pool, so the goroutine inherits
// the caller's goroutine-local (gls) context; NewEngine sets no gls values.
func NewEngine() *Engine {
	e := &Engine{
		tree:      btree.NewG[*entry](32, lessEntry),
		sweepStop: make(chan struct{}),
	}
	gls.Go(func() {
		e.sweepExpired()
	})
	return e
}

// WithScriptCache attaches cache to the engine and registers an onexit
// hook (storage/settings.go's InitSettings does the same for its trace
// file) so a process shutdown always flushes in-memory scripts through
// the cache's durable backend, if any.
func (e *Engine) WithScriptCache(cache *ScriptCache) *Engine {
	e.Scripts = cache
	onexit.Register(func() {
		_ = cache.Flush()
	})
	return e
}

// WithMonitor attaches a Monitor that receives every dispatched command.
func (e *Engine) WithMonitor(mon *Monitor) *Engine {
	e.Monitor = mon
	return e
}

// Close stops the background sweeper. Safe to call more than once.
func (e *Engine) Close() {
	e.sweepOnce.Do(func() { close(e.sweepStop) })
}

func (e *Engine) sweepExpired() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.sweepStop:
			return
		case <-ticker.C:
			e.evictExpired()
		}
	}
}

func (e *Engine) evictExpired() {
	now := time.Now()
	var stale []string
	e.mu.RLock()
	e.tree.Ascend(func(it *entry) bool {
		if !it.expireAt.IsZero() && now.After(it.expireAt) {
			stale = append(stale, it.key)
		}
		return true
	})
	e.mu.RUnlock()
	if len(stale) == 0 {
		return
	}
	e.mu.Lock()
	for _, k := range stale {
		e.tree.Delete(&entry{key: k})
	}
	e.mu.Unlock()
}

// get returns the live (non-expired) entry for key, deleting it first if it
// has lapsed.
func (e *Engine) get(key string) (*entry, bool) {
	e.mu.RLock()
	it, ok := e.tree.Get(&entry{key: key})
	e.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !it.expireAt.IsZero() && time.Now().After(it.expireAt) {
		e.mu.Lock()
		e.tree.Delete(&entry{key: key})
		e.mu.Unlock()
		return nil, false
	}
	return it, true
}

// Dispatch implements lua.CommandTable: it is the function a script's
// redis.call/pcall ultimately invokes (§6). args[0] is the command name,
// case-insensitively.
func (e *Engine) Dispatch(args []string) (lua.RespValue, error) {
	if e.Monitor != nil {
		e.Monitor.Publish(MonitorEvent{When: time.Now(), Args: args})
	}
	if len(args) == 0 {
		return errReply("ERR empty command"), nil
	}
	cmd := strings.ToUpper(args[0])
	handler, ok := commandTable[cmd]
	if !ok {
		return errReply("ERR unknown command '" + args[0] + "'"), nil
	}
	return handler(e, args[1:])
}

func errReply(msg string) lua.RespValue {
	return lua.RespValue{Kind: lua.RespError, Str: msg}
}

func statusReply(msg string) lua.RespValue {
	return lua.RespValue{Kind: lua.RespStatus, Str: msg}
}

func bulkReply(s string) lua.RespValue {
	return lua.RespValue{Kind: lua.RespBulk, Str: s}
}

func intReply(n int64) lua.RespValue {
	return lua.RespValue{Kind: lua.RespInteger, Int: n}
}

func nilReply() lua.RespValue {
	return lua.RespValue{Kind: lua.RespNil}
}

func parseInt(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}
