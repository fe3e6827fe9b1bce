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
	"strings"
	"time"

	"github.com/launix-de/redislua/lua"
)

// commandHandler mirrors scm/declare.go's Fn shape, narrowed to the
// string-args-in, RespValue-out contract redis.call needs.
type commandHandler func(e *Engine, args []string) (lua.RespValue, error)

// commandTable is the Declare-style registry §4.J calls for: a static map
// from command name to handler, populated once at package init instead of
// scm/declare.go's Declare(env, def) calls since there is no scripting
// environment here to register into — the handlers are Go, not Lua.
var commandTable = map[string]commandHandler{
	"PING":     cmdPing,
	"GET":      cmdGet,
	"SET":      cmdSet,
	"DEL":      cmdDel,
	"EXISTS":   cmdExists,
	"INCR":     cmdIncr,
	"INCRBY":   cmdIncrBy,
	"APPEND":   cmdAppend,
	"EXPIRE":   cmdExpire,
	"TTL":      cmdTTL,
	"KEYS":     cmdKeys,
	"SCAN":     cmdScan,
	"TYPE":     cmdType,
	"FLUSHALL": cmdFlushAll,
}

func cmdPing(e *Engine, args []string) (lua.RespValue, error) {
	if len(args) > 0 {
		return bulkReply(args[0]), nil
	}
	return statusReply("PONG"), nil
}

func cmdGet(e *Engine, args []string) (lua.RespValue, error) {
	if len(args) != 1 {
		return errReply("ERR wrong number of arguments for 'get' command"), nil
	}
	it, ok := e.get(args[0])
	if !ok {
		return nilReply(), nil
	}
	return bulkReply(it.value), nil
}

func cmdSet(e *Engine, args []string) (lua.RespValue, error) {
	if len(args) < 2 {
		return errReply("ERR wrong number of arguments for 'set' command"), nil
	}
	key, val := args[0], args[1]
	var expireAt time.Time
	for i := 2; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "EX":
			if i+1 >= len(args) {
				return errReply("ERR syntax error"), nil
			}
			secs, ok := parseInt(args[i+1])
			if !ok {
				return errReply("ERR value is not an integer or out of range"), nil
			}
			expireAt = time.Now().Add(time.Duration(secs) * time.Second)
			i++
		case "PX":
			if i+1 >= len(args) {
				return errReply("ERR syntax error"), nil
			}
			ms, ok := parseInt(args[i+1])
			if !ok {
				return errReply("ERR value is not an integer or out of range"), nil
			}
			expireAt = time.Now().Add(time.Duration(ms) * time.Millisecond)
			i++
		default:
			return errReply("ERR syntax error"), nil
		}
	}
	e.mu.Lock()
	e.tree.ReplaceOrInsert(&entry{key: key, value: val, expireAt: expireAt})
	e.mu.Unlock()
	return statusReply("OK"), nil
}

func cmdDel(e *Engine, args []string) (lua.RespValue, error) {
	var n int64
	e.mu.Lock()
	for _, k := range args {
		if _, ok := e.tree.Delete(&entry{key: k}); ok {
			n++
		}
	}
	e.mu.Unlock()
	return intReply(n), nil
}

func cmdExists(e *Engine, args []string) (lua.RespValue, error) {
	var n int64
	for _, k := range args {
		if _, ok := e.get(k); ok {
			n++
		}
	}
	return intReply(n), nil
}

func cmdIncr(e *Engine, args []string) (lua.RespValue, error) {
	return incrBy(e, args, 1)
}

func cmdIncrBy(e *Engine, args []string) (lua.RespValue, error) {
	if len(args) != 2 {
		return errReply("ERR wrong number of arguments for 'incrby' command"), nil
	}
	delta, ok := parseInt(args[1])
	if !ok {
		return errReply("ERR value is not an integer or out of range"), nil
	}
	return incrBy(e, args[:1], delta)
}

func incrBy(e *Engine, args []string, delta int64) (lua.RespValue, error) {
	if len(args) != 1 {
		return errReply("ERR wrong number of arguments for 'incr' command"), nil
	}
	key := args[0]
	e.mu.Lock()
	defer e.mu.Unlock()
	it, ok := e.tree.Get(&entry{key: key})
	var cur int64
	var expireAt time.Time
	if ok {
		if !it.expireAt.IsZero() && time.Now().After(it.expireAt) {
			ok = false
		} else {
			n, parsed := parseInt(it.value)
			if !parsed {
				return errReply("ERR value is not an integer or out of range"), nil
			}
			cur = n
			expireAt = it.expireAt
		}
	}
	cur += delta
	e.tree.ReplaceOrInsert(&entry{key: key, value: itoa(cur), expireAt: expireAt})
	return intReply(cur), nil
}

func cmdAppend(e *Engine, args []string) (lua.RespValue, error) {
	if len(args) != 2 {
		return errReply("ERR wrong number of arguments for 'append' command"), nil
	}
	key := args[0]
	e.mu.Lock()
	defer e.mu.Unlock()
	it, ok := e.tree.Get(&entry{key: key})
	base := ""
	var expireAt time.Time
	if ok && (it.expireAt.IsZero() || !time.Now().After(it.expireAt)) {
		base = it.value
		expireAt = it.expireAt
	}
	combined := base + args[1]
	e.tree.ReplaceOrInsert(&entry{key: key, value: combined, expireAt: expireAt})
	return intReply(int64(len(combined))), nil
}

func cmdExpire(e *Engine, args []string) (lua.RespValue, error) {
	if len(args) != 2 {
		return errReply("ERR wrong number of arguments for 'expire' command"), nil
	}
	secs, ok := parseInt(args[1])
	if !ok {
		return errReply("ERR value is not an integer or out of range"), nil
	}
	key := args[0]
	e.mu.Lock()
	defer e.mu.Unlock()
	it, ok := e.tree.Get(&entry{key: key})
	if !ok {
		return intReply(0), nil
	}
	it.expireAt = time.Now().Add(time.Duration(secs) * time.Second)
	e.tree.ReplaceOrInsert(it)
	return intReply(1), nil
}

func cmdTTL(e *Engine, args []string) (lua.RespValue, error) {
	if len(args) != 1 {
		return errReply("ERR wrong number of arguments for 'ttl' command"), nil
	}
	it, ok := e.get(args[0])
	if !ok {
		return intReply(-2), nil
	}
	if it.expireAt.IsZero() {
		return intReply(-1), nil
	}
	remaining := time.Until(it.expireAt)
	if remaining < 0 {
		remaining = 0
	}
	return intReply(int64(remaining / time.Second)), nil
}

func cmdKeys(e *Engine, args []string) (lua.RespValue, error) {
	pattern := "*"
	if len(args) > 0 {
		pattern = args[0]
	}
	now := time.Now()
	out := lua.RespValue{Kind: lua.RespArray}
	e.mu.RLock()
	e.tree.Ascend(func(it *entry) bool {
		if !it.expireAt.IsZero() && now.After(it.expireAt) {
			return true
		}
		if _, _, _, ok := lua.FindMatch(it.key, globToLuaPattern(pattern), 0); ok {
			out.Array = append(out.Array, bulkReply(it.key))
		}
		return true
	})
	e.mu.RUnlock()
	return out, nil
}

// cmdScan implements a minimal cursor-based SCAN (§4.J): the cursor is the
// last key of the previous page, encoded as a bulk string, and the next page
// starts strictly after it; an empty cursor ends the scan. A client that
// stops scanning early never corrupts server-side state.
func cmdScan(e *Engine, args []string) (lua.RespValue, error) {
	if len(args) < 1 {
		return errReply("ERR wrong number of arguments for 'scan' command"), nil
	}
	cursor := args[0]
	const pageSize = 10
	now := time.Now()
	var keys []string
	next := ""
	e.mu.RLock()
	e.tree.AscendGreaterOrEqual(&entry{key: cursor}, func(it *entry) bool {
		if it.key == cursor {
			return true
		}
		if !it.expireAt.IsZero() && now.After(it.expireAt) {
			return true
		}
		if len(keys) >= pageSize {
			next = keys[len(keys)-1]
			return false
		}
		keys = append(keys, it.key)
		return true
	})
	e.mu.RUnlock()
	reply := lua.RespValue{Kind: lua.RespArray, Array: []lua.RespValue{bulkReply(next)}}
	inner := lua.RespValue{Kind: lua.RespArray}
	for _, k := range keys {
		inner.Array = append(inner.Array, bulkReply(k))
	}
	reply.Array = append(reply.Array, inner)
	return reply, nil
}

func cmdType(e *Engine, args []string) (lua.RespValue, error) {
	if len(args) != 1 {
		return errReply("ERR wrong number of arguments for 'type' command"), nil
	}
	if _, ok := e.get(args[0]); !ok {
		return statusReply("none"), nil
	}
	return statusReply("string"), nil
}

func cmdFlushAll(e *Engine, args []string) (lua.RespValue, error) {
	e.mu.Lock()
	e.tree.Clear(false)
	e.mu.Unlock()
	return statusReply("OK"), nil
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// globToLuaPattern translates the subset of glob syntax KEYS uses (* and ?)
// into an equivalent Lua pattern so the existing pattern-matching engine
// (lua/luapattern.go) can drive both KEYS and string.match; everything else
// is escaped literally, so bracket classes match themselves rather than
// acting as a character class.
func globToLuaPattern(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		case '[', ']', '^', '$', '(', ')', '%', '.', '+', '-':
			b.WriteByte('%')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return "^" + b.String() + "$"
}
