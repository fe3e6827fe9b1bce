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

// This file implements Lua 5.1's own pattern-matching language (not POSIX
// regex, not RE2): %a/%d/%s character classes, character sets [...], the
// *, +, -, ? quantifiers, %b balanced-match, %f frontier, and numbered
// captures, all backed by the reference implementation's backtracking
// recursive-descent matcher (lstrlib.c's `match`). string.find/match/
// gmatch/gsub (§4.H) are all built on luaCapture below.

type luaCapture struct {
	start int
	len   int // -1 while open, -2 marks a %position capture
}

type matchState struct {
	src, pat string
	captures []luaCapture
}

const maxCaptures = 32
const capPosition = -2
const capUnfinished = -1

// doMatch attempts to match pattern starting at s[si:], pattern at p[pi:],
// returning the end index in s on success or -1 on failure. Mirrors the
// reference `match` function's control flow exactly (including its use of
// Go-native recursion in place of C goto-based tail calls).
func (ms *matchState) doMatch(si, pi int) int {
	if pi >= len(ms.pat) {
		return si
	}
	switch ms.pat[pi] {
	case '(':
		if pi+1 < len(ms.pat) && ms.pat[pi+1] == ')' {
			return ms.startCapture(si, pi+2, capPosition)
		}
		return ms.startCapture(si, pi+1, capUnfinished)
	case ')':
		return ms.endCapture(si, pi+1)
	case '$':
		if pi+1 == len(ms.pat) {
			if si == len(ms.src) {
				return si
			}
			return -1
		}
	case '%':
		if pi+1 < len(ms.pat) {
			switch ms.pat[pi+1] {
			case 'b':
				return ms.matchBalance(si, pi+2)
			case 'f':
				pi += 2
				if pi >= len(ms.pat) || ms.pat[pi] != '[' {
					return -1
				}
				ep := ms.classEnd(pi)
				var prev byte
				if si > 0 {
					prev = ms.src[si-1]
				}
				var cur byte
				if si < len(ms.src) {
					cur = ms.src[si]
				}
				if !ms.matchClass2(prev, pi, ep) && ms.matchClass2(cur, pi, ep) {
					return ms.doMatch(si, ep)
				}
				return -1
			default:
				if isDigit(ms.pat[pi+1]) {
					ns := ms.matchCapture(si, int(ms.pat[pi+1]-'0'))
					if ns < 0 {
						return -1
					}
					return ms.doMatch(ns, pi+2)
				}
			}
		}
	}

	ep := ms.classEnd(pi)
	var m bool
	if si < len(ms.src) {
		m = ms.matchClass2(ms.src[si], pi, ep)
	}
	if ep < len(ms.pat) {
		switch ms.pat[ep] {
		case '?':
			if m {
				if r := ms.doMatch(si+1, ep+1); r >= 0 {
					return r
				}
			}
			return ms.doMatch(si, ep+1)
		case '+':
			if !m {
				return -1
			}
			return ms.maxExpand(si+1, pi, ep)
		case '*':
			return ms.maxExpand(si, pi, ep)
		case '-':
			return ms.minExpand(si, pi, ep)
		}
	}
	if !m {
		return -1
	}
	return ms.doMatch(si+1, ep)
}

func (ms *matchState) maxExpand(si, pi, ep int) int {
	n := 0
	for si+n < len(ms.src) && ms.matchClass2(ms.src[si+n], pi, ep) {
		n++
	}
	for n >= 0 {
		if r := ms.doMatch(si+n, ep+1); r >= 0 {
			return r
		}
		n--
	}
	return -1
}

func (ms *matchState) minExpand(si, pi, ep int) int {
	for {
		if r := ms.doMatch(si, ep+1); r >= 0 {
			return r
		}
		if si < len(ms.src) && ms.matchClass2(ms.src[si], pi, ep) {
			si++
		} else {
			return -1
		}
	}
}

func (ms *matchState) startCapture(si, pi, what int) int {
	ms.captures = append(ms.captures, luaCapture{start: si, len: what})
	r := ms.doMatch(si, pi)
	if r < 0 {
		ms.captures = ms.captures[:len(ms.captures)-1]
	}
	return r
}

func (ms *matchState) endCapture(si, pi int) int {
	idx := -1
	for i := len(ms.captures) - 1; i >= 0; i-- {
		if ms.captures[i].len == capUnfinished {
			idx = i
			break
		}
	}
	if idx < 0 {
		return -1
	}
	ms.captures[idx].len = si - ms.captures[idx].start
	r := ms.doMatch(si, pi)
	if r < 0 {
		ms.captures[idx].len = capUnfinished
	}
	return r
}

func (ms *matchState) matchCapture(si, idx int) int {
	idx--
	if idx < 0 || idx >= len(ms.captures) || ms.captures[idx].len == capUnfinished {
		return -1
	}
	captured := ms.src[ms.captures[idx].start : ms.captures[idx].start+ms.captures[idx].len]
	if len(ms.src)-si >= len(captured) && ms.src[si:si+len(captured)] == captured {
		return si + len(captured)
	}
	return -1
}

func (ms *matchState) matchBalance(si, pi int) int {
	if pi+1 >= len(ms.pat) {
		return -1
	}
	if si >= len(ms.src) || ms.src[si] != ms.pat[pi] {
		return -1
	}
	b, e := ms.pat[pi], ms.pat[pi+1]
	depth := 1
	si++
	for si < len(ms.src) {
		if ms.src[si] == e {
			depth--
			if depth == 0 {
				return ms.doMatch(si+1, pi+2)
			}
		} else if ms.src[si] == b {
			depth++
		}
		si++
	}
	return -1
}

// classEnd returns the pattern index just past the single class starting
// at pi (a literal char, %x escape, or a [...] set).
func (ms *matchState) classEnd(pi int) int {
	c := ms.pat[pi]
	pi++
	if c == '%' {
		return pi + 1
	}
	if c == '[' {
		if pi < len(ms.pat) && ms.pat[pi] == '^' {
			pi++
		}
		for {
			if pi >= len(ms.pat) {
				return pi
			}
			cc := ms.pat[pi]
			pi++
			if cc == '%' {
				pi++
			} else if cc == ']' {
				return pi
			}
		}
	}
	return pi
}

func (ms *matchState) matchClass2(c byte, pi, ep int) bool {
	switch ms.pat[pi] {
	case '.':
		return true
	case '%':
		return matchClassChar(c, ms.pat[pi+1])
	case '[':
		return matchSet(c, ms.pat[pi:ep])
	default:
		return ms.pat[pi] == c
	}
}

func matchClassChar(c, class byte) bool {
	var res bool
	switch lower := class | 0x20; lower {
	case 'a':
		res = isAlpha(c)
	case 'd':
		res = isDigit(c)
	case 'l':
		res = c >= 'a' && c <= 'z'
	case 's':
		res = isASCIISpace(c)
	case 'u':
		res = c >= 'A' && c <= 'Z'
	case 'w':
		res = isAlpha(c) || isDigit(c)
	case 'c':
		res = c < 32 || c == 127
	case 'p':
		res = isPunct(c)
	case 'x':
		res = isDigit(c) || (c|0x20 >= 'a' && c|0x20 <= 'f')
	default:
		return class == c
	}
	if class >= 'A' && class <= 'Z' {
		return !res
	}
	return res
}

// matchSet tests c against a bracketed set "[...]" (inclusive of both
// brackets, as returned by classEnd): %-classes, a-z ranges, and literal
// members, optionally negated by a leading '^'.
func matchSet(c byte, set string) bool {
	negate := false
	i := 1
	if i < len(set) && set[i] == '^' {
		negate = true
		i++
	}
	contentEnd := len(set) - 1 // index of the closing ']'
	found := false
	for i < contentEnd {
		switch {
		case set[i] == '%' && i+1 < contentEnd:
			if matchClassChar(c, set[i+1]) {
				found = true
			}
			i += 2
		case i+2 < contentEnd && set[i+1] == '-':
			if set[i] <= c && c <= set[i+2] {
				found = true
			}
			i += 3
		default:
			if set[i] == c {
				found = true
			}
			i++
		}
	}
	if negate {
		return !found
	}
	return found
}

func isAlpha(c byte) bool { return (c|0x20 >= 'a' && c|0x20 <= 'z') }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isPunct(c byte) bool {
	return (c >= '!' && c <= '/') || (c >= ':' && c <= '@') || (c >= '[' && c <= '`') || (c >= '{' && c <= '~')
}

// FindMatch runs pattern against s starting the scan at init (0-based,
// clamped), honoring a leading '^' as an anchor. It returns the match
// bounds [start,end) in s and the list of captures (each a luaCapture: a
// substring start and length or, for a position capture, a start with
// len == capPosition).
func FindMatch(s, pattern string, init int) (start, end int, captures []luaCapture, ok bool) {
	anchor := false
	pi := 0
	if len(pattern) > 0 && pattern[0] == '^' {
		anchor = true
		pi = 1
	}
	if init < 0 {
		init = 0
	}
	if init > len(s) {
		return 0, 0, nil, false
	}
	for si := init; si <= len(s); si++ {
		ms := &matchState{src: s, pat: pattern}
		if e := ms.doMatch(si, pi); e >= 0 {
			return si, e, ms.captures, true
		}
		if anchor {
			break
		}
	}
	return 0, 0, nil, false
}

// CaptureStrings resolves captures against s; when no explicit capture was
// written, the whole match [start,end) is the sole implicit capture (§4.H
// string.match/gsub semantics).
func CaptureStrings(s string, start, end int, captures []luaCapture) []string {
	if len(captures) == 0 {
		return []string{s[start:end]}
	}
	out := make([]string, len(captures))
	for i, c := range captures {
		if c.len == capPosition {
			out[i] = itoaSimple(c.start + 1)
		} else {
			out[i] = s[c.start : c.start+c.len]
		}
	}
	return out
}

func itoaSimple(n int) string {
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
