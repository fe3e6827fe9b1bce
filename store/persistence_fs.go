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
	"os"
	"path/filepath"
)

// FSBackend is the default ScriptStoreBackend: one file per script under
// Dir, named by its SHA1 digest. It plays the role storage/persistence.go's
// file-based PersistenceEngine plays for table data, scaled down to a flat
// key-value directory since scripts have no schema to version.
type FSBackend struct {
	Dir string
}

func NewFSBackend(dir string) (*FSBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FSBackend{Dir: dir}, nil
}

func (f *FSBackend) path(sha1hex string) string {
	return filepath.Join(f.Dir, sha1hex+".luac")
}

func (f *FSBackend) Load(sha1hex string) ([]byte, bool, error) {
	blob, err := os.ReadFile(f.path(sha1hex))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return blob, true, nil
}

func (f *FSBackend) Store(sha1hex string, blob []byte) error {
	tmp := f.path(sha1hex) + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path(sha1hex))
}
