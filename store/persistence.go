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
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/launix-de/redislua/lua"
)

// ScriptStoreBackend is the pluggable durability layer ScriptCache falls
// back to on a cold miss (§4.K), mirroring the shape of
// storage/persistence.go's PersistenceEngine interface: one small
// load/store contract, many concrete backends behind it (fs, S3, Ceph).
// Modules round-trip through lua.Module's own JSON encoding (the same
// format cmd/redislua-cli reads from disk), compressed at rest.
type ScriptStoreBackend interface {
	Load(sha1hex string) ([]byte, bool, error)
	Store(sha1hex string, blob []byte) error
}

// ArchivalCompression switches ScriptCache's on-disk encoding from lz4's
// fast path to xz's higher ratio, for deployments that write scripts once
// and rarely read them back from cold storage (long-lived SCRIPT LOAD
// catalogs archived to S3/Ceph) rather than the hot EVALSHA path, where
// lz4's lower latency matters more.
var ArchivalCompression = false

func encodeModule(m *lua.Module) []byte {
	raw, err := m.ToJSON()
	if err != nil {
		return nil
	}
	var compressed bytes.Buffer
	if ArchivalCompression {
		w, err := xz.NewWriter(&compressed)
		if err != nil {
			return raw
		}
		if _, err := w.Write(raw); err != nil {
			return raw
		}
		if err := w.Close(); err != nil {
			return raw
		}
		return compressed.Bytes()
	}
	w := lz4.NewWriter(&compressed)
	if _, err := w.Write(raw); err != nil {
		return raw
	}
	if err := w.Close(); err != nil {
		return raw
	}
	return compressed.Bytes()
}

func decodeModule(blob []byte) (*lua.Module, error) {
	raw, err := decompressEither(blob)
	if err != nil {
		raw = blob // not framed by either codec; try raw JSON
	}
	return lua.ModuleFromJSON(raw)
}

// decompressEither tries xz first, then lz4, since a catalog built under
// ArchivalCompression may later be read by a process running with the
// default lz4 path (or vice versa after a config change).
func decompressEither(blob []byte) ([]byte, error) {
	if xr, err := xz.NewReader(bytes.NewReader(blob)); err == nil {
		if raw, rerr := io.ReadAll(xr); rerr == nil && len(raw) > 0 {
			return raw, nil
		}
	}
	r := lz4.NewReader(bytes.NewReader(blob))
	raw, err := io.ReadAll(r)
	if err != nil || len(raw) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return raw, nil
}
