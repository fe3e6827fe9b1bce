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

import "encoding/json"

// ModuleFromJSON decodes the compiled-module input format spec.md §6
// describes ("a logical structure, not a wire format") from its JSON
// rendering: a host that has no lexer/parser/compiler of its own (the CLI,
// a test fixture, a ScriptStoreBackend) reads modules this way rather than
// ever parsing Lua source, since compiling Lua source is explicitly out of
// scope for this package.
func ModuleFromJSON(data []byte) (*Module, error) {
	var m Module
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ToJSON is the inverse of ModuleFromJSON.
func (m *Module) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
