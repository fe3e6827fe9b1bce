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

import (
	"fmt"
	"sort"
	"strings"
)

// Help prints the one-line description of every registered native
// function, or the full description of a single named one. There is no
// Declaration struct here the way scm/declare.go has one: a native
// function's name and description already live on its NativeFunction
// entry in nativeRegistry (stdlib.go), registered once at install time, so
// introspection just walks that registry instead of a separate catalog.
func Help(name string) {
	if name == "" {
		fmt.Println("Available functions:")
		fmt.Println("")
		names := make([]string, 0, len(nativeByName))
		for n := range nativeByName {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			idx := nativeByName[n]
			fmt.Println("  " + n + ": " + strings.Split(nativeRegistry[idx].Desc, "\n")[0])
		}
		return
	}
	idx, ok := nativeByName[name]
	if !ok {
		fmt.Println("function not found: " + name)
		return
	}
	fn := nativeRegistry[idx]
	fmt.Println("Help for: " + fn.Name)
	fmt.Println("===")
	fmt.Println("")
	fmt.Println(fn.Desc)
}
