/*
Copyright (C) 2024  Carl-Philip Hänsch

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

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Tracefile records executed instructions to a Chrome trace-event JSON
// stream, the same wire format and write discipline as the teacher's
// scm/trace.go — only the event payload changed, from Scheme
// function-call spans to (PC, Opcode) samples, since the bytecode
// interpreter has no recursive s-expression evaluation to bracket.
type Tracefile struct {
	isFirst bool
	file    io.WriteCloser
	m       sync.Mutex
	start   time.Time
}

// NewTracefile opens a new instruction trace sink. Hosts pass it to Eval
// via EvalOptions.Trace; nil is the default (tracing
// off), matching the teacher's `Trace *Tracefile` global being nil unless
// SetTrace(true) was called.
func NewTracefile(file io.WriteCloser) *Tracefile {
	file.Write([]byte("["))
	return &Tracefile{file: file, isFirst: true, start: time.Now()}
}

func (t *Tracefile) Close() {
	t.file.Write([]byte("]"))
	t.file.Close()
}

// Instruction appends one executed-instruction sample: opcode name, frame
// depth, and program counter, timestamped in microseconds since trace open
// (a stream, not a ring buffer: its length is bounded only by how many
// instructions a single script run is permitted to execute).
func (t *Tracefile) Instruction(op Opcode, depth, pc int) {
	ts := time.Since(t.start).Microseconds()
	t.m.Lock()
	defer t.m.Unlock()
	if t.isFirst {
		t.isFirst = false
	} else {
		t.file.Write([]byte(",\n"))
	}
	b, _ := json.Marshal(opcodeName(op))
	t.file.Write([]byte(`{"name": `))
	t.file.Write(b)
	t.file.Write([]byte(`, "cat": "bytecode", "ph": "X", "ts": `))
	tb, _ := json.Marshal(ts)
	t.file.Write(tb)
	t.file.Write([]byte(`, "dur": 0, "pid": 0, "tid": `))
	db, _ := json.Marshal(depth)
	t.file.Write(db)
	t.file.Write([]byte(`, "args": {"pc": `))
	pb, _ := json.Marshal(pc)
	t.file.Write(pb)
	t.file.Write([]byte(`}}`))
}

func opcodeName(op Opcode) string {
	names := [...]string{
		"MOVE", "LOADK", "LOADBOOL", "LOADNIL", "GETUPVAL", "GETGLOBAL",
		"GETTABLE", "SETGLOBAL", "SETUPVAL", "SETTABLE", "NEWTABLE", "SELF",
		"ADD", "SUB", "MUL", "DIV", "MOD", "POW", "UNM", "NOT", "LEN",
		"CONCAT", "JMP", "EQ", "LT", "LE", "TEST", "TESTSET", "CALL",
		"TAILCALL", "RETURN", "FORLOOP", "FORPREP", "TFORLOOP", "SETLIST",
		"CLOSE", "CLOSURE", "VARARG",
	}
	if int(op) < len(names) {
		return names[op]
	}
	return "UNKNOWN"
}
