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
package lua

import "fmt"

// EvalOptions bundles everything a host needs to run one script beyond the
// compiled module itself (§6 "Host entry points"): the resource Limits, the
// keyspace collaborator redis.call dispatches through, and an optional
// instruction tracer for diagnostics.
type EvalOptions struct {
	Limits Limits
	Call   CommandTable
	Trace  *Tracefile
}

// ScriptNotFoundError is EvalSha's analogue of Redis's NOSCRIPT error: the
// host's cache has no compiled module under this digest.
type ScriptNotFoundError struct{ SHA1 string }

func (e *ScriptNotFoundError) Error() string {
	return fmt.Sprintf("lua: no script found for sha1 %s", e.SHA1)
}

// ModuleLookup resolves a SHA1 digest to a previously cached compiled
// Module, as EVALSHA requires (§6); a concrete implementation is a
// store.ScriptCache lookup, supplied by the host.
type ModuleLookup func(sha1hex string) (*Module, bool, error)

// Eval is the `eval` host entry point of §6: it creates a fresh heap, loads
// module, installs KEYS/ARGV/redis.*/cjson, applies the sandbox, runs the
// main closure to completion, converts its first result to RESP, and tears
// the heap down by simply letting it become unreachable (§9: one heap per
// script run, never shared or reused).
func Eval(module *Module, keys, args []string, opts EvalOptions) (RespValue, error) {
	it, err := NewInterp(opts.Limits)
	if err != nil {
		return RespValue{}, err
	}
	it.trace = opts.Trace

	if err := installCjsonLibrary(it); err != nil {
		return RespValue{}, err
	}
	if err := installKeysArgv(it, keys, args); err != nil {
		return RespValue{}, err
	}
	if err := installRedisLibrary(it, opts.Call); err != nil {
		return RespValue{}, err
	}
	if err := applySandbox(it); err != nil {
		return RespValue{}, err
	}

	closureHandle, err := it.heap.LoadModule(module)
	if err != nil {
		return RespValue{}, err
	}

	results, err := it.callValue(NewClosure(closureHandle), nil, -1)
	if err != nil {
		return RespValue{}, err
	}
	if len(results) == 0 {
		return RespValue{Kind: RespNil}, nil
	}
	return it.valueToResp(results[0])
}

// EvalSha is the `evalsha` host entry point of §6: it resolves sha1hex
// through lookup, then delegates to Eval exactly as if the caller had sent
// the resolved module to EVAL directly.
func EvalSha(sha1hex string, lookup ModuleLookup, keys, args []string, opts EvalOptions) (RespValue, error) {
	module, ok, err := lookup(sha1hex)
	if err != nil {
		return RespValue{}, err
	}
	if !ok {
		return RespValue{}, &ScriptNotFoundError{SHA1: sha1hex}
	}
	return Eval(module, keys, args, opts)
}
