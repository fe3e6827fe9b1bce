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

// Command redislua-cli is a REPL and one-shot runner for compiled Lua
// modules against an in-process store.Engine: a development aid for
// exercising EVAL without a real Redis server in front of it.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/chzyer/readline"
	"github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"

	"github.com/launix-de/redislua/lua"
	"github.com/launix-de/redislua/store"
)

const newprompt = "\033[32mredislua>\033[0m "
const resultprompt = "\033[31m=\033[0m "

func main() {
	var (
		watchDir  = flag.String("watch", "", "watch DIR for changed .json module files and re-EVAL them")
		maxMemory = flag.String("maxmemory", "64mb", "per-script heap budget, e.g. 64mb, 256mb")
		run       = flag.String("eval", "", "EVAL a single compiled module file and exit")
	)
	flag.Parse()

	limits := lua.Limits{}
	if n, err := units.RAMInBytes(*maxMemory); err == nil {
		limits.MemoryBytes = uint64(n)
	} else {
		fmt.Fprintln(os.Stderr, "redislua-cli: invalid -maxmemory:", err)
		os.Exit(1)
	}

	engine := store.NewEngine()
	defer engine.Close()

	if *run != "" {
		runFile(engine, limits, *run)
		return
	}
	if *watchDir != "" {
		watch(engine, limits, *watchDir)
		return
	}
	repl(engine, limits)
}

func runFile(engine *store.Engine, limits lua.Limits, path string) {
	reply, err := evalFile(engine, limits, path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Println(formatResp(reply))
}

func evalFile(engine *store.Engine, limits lua.Limits, path string) (lua.RespValue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lua.RespValue{}, err
	}
	module, err := lua.ModuleFromJSON(data)
	if err != nil {
		return lua.RespValue{}, err
	}
	return lua.Eval(module, nil, nil, lua.EvalOptions{Limits: limits, Call: engine.Dispatch})
}

// watch re-EVALs each .json module file in dir whenever it is written or
// created, the way
// scm/prompt.go's Repl re-evaluates every line the user submits — here the
// "line" is a whole module file, since there is no source compiler in this
// repository to feed a line at a time. fsnotify is otherwise unused
// anywhere else in this codebase; this is its home.
func watch(engine *store.Engine, limits lua.Limits, dir string) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		fmt.Fprintln(os.Stderr, "redislua-cli:", err)
		os.Exit(1)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		fmt.Fprintln(os.Stderr, "redislua-cli:", err)
		os.Exit(1)
	}
	fmt.Println("watching", dir, "for *.json module files")
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Ext(ev.Name) != ".json" {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reply, err := evalFile(engine, limits, ev.Name)
			if err != nil {
				fmt.Println(ev.Name, "error:", err)
				continue
			}
			fmt.Println(ev.Name, "=>", formatResp(reply))
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			fmt.Fprintln(os.Stderr, "redislua-cli:", err)
		}
	}
}

// repl is a thin command shell, not a Lua source REPL: this package has no
// lexer/parser/compiler (out of scope, spec §1), so it can only drive
// EVAL against already-compiled module files and issue raw keyspace
// commands directly against engine. Structure follows scm/prompt.go's
// Repl: a readline loop with history, an anti-panic recover wrapper around
// each line, and a distinct result prompt.
func repl(engine *store.Engine, limits lua.Limits) {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            newprompt,
		HistoryFile:       ".redislua-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	fmt.Println("redislua-cli — type `eval <module.json>`, a raw command (e.g. `GET foo`), or Ctrl-D to exit")

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		runLine(engine, limits, line)
	}
}

func runLine(engine *store.Engine, limits lua.Limits, line string) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Println("panic:", r, string(debug.Stack()))
		}
	}()

	fields := strings.Fields(line)
	if strings.EqualFold(fields[0], "eval") && len(fields) == 2 {
		reply, err := evalFile(engine, limits, fields[1])
		if err != nil {
			fmt.Println(resultprompt, "error:", err)
			return
		}
		fmt.Println(resultprompt, formatResp(reply))
		return
	}

	reply, err := engine.Dispatch(fields)
	if err != nil {
		fmt.Println(resultprompt, "error:", err)
		return
	}
	fmt.Println(resultprompt, formatResp(reply))
}

func formatResp(r lua.RespValue) string {
	var b bytes.Buffer
	writeResp(&b, r)
	return b.String()
}

func writeResp(b *bytes.Buffer, r lua.RespValue) {
	switch r.Kind {
	case lua.RespNil:
		b.WriteString("(nil)")
	case lua.RespInteger:
		fmt.Fprintf(b, "(integer) %d", r.Int)
	case lua.RespBulk:
		fmt.Fprintf(b, "%q", r.Str)
	case lua.RespStatus:
		b.WriteString(r.Str)
	case lua.RespError:
		fmt.Fprintf(b, "(error) %s", r.Str)
	case lua.RespArray:
		b.WriteByte('[')
		for i, e := range r.Array {
			if i > 0 {
				b.WriteString(", ")
			}
			writeResp(b, e)
		}
		b.WriteByte(']')
	}
}
