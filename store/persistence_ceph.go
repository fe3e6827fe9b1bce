//go:build ceph

/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

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
	"path"
	"strings"
	"sync"

	"github.com/ceph/go-ceph/rados"
)

// CephBackend stores scripts as RADOS objects under Prefix/<sha1>.luac,
// following the connect-once-then-reuse-IOContext shape of
// storage/persistence-ceph.go's CephStorage, scaled down: scripts are
// whole small objects, so there is no segmented-log append path to carry
// over.
type CephBackend struct {
	UserName    string
	ClusterName string
	ConfFile    string
	Pool        string
	Prefix      string

	mu     sync.Mutex
	conn   *rados.Conn
	ioctx  *rados.IOContext
	opened bool
}

func (c *CephBackend) ensureOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		return nil
	}
	conn, err := rados.NewConnWithClusterAndUser(c.ClusterName, c.UserName)
	if err != nil {
		return err
	}
	if c.ConfFile != "" {
		if err := conn.ReadConfigFile(c.ConfFile); err != nil {
			return err
		}
	} else {
		_ = conn.ReadDefaultConfigFile()
	}
	if err := conn.Connect(); err != nil {
		return err
	}
	ioctx, err := conn.OpenIOContext(c.Pool)
	if err != nil {
		conn.Shutdown()
		return err
	}
	c.conn = conn
	c.ioctx = ioctx
	c.opened = true
	return nil
}

func (c *CephBackend) obj(sha1hex string) string {
	return path.Join(strings.TrimSuffix(c.Prefix, "/"), sha1hex+".luac")
}

func (c *CephBackend) Load(sha1hex string) ([]byte, bool, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, false, err
	}
	obj := c.obj(sha1hex)
	stat, err := c.ioctx.Stat(obj)
	if err != nil {
		return nil, false, nil
	}
	data := make([]byte, stat.Size)
	n, err := c.ioctx.Read(obj, data, 0)
	if err != nil {
		return nil, false, err
	}
	return data[:n], true, nil
}

func (c *CephBackend) Store(sha1hex string, blob []byte) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	return c.ioctx.WriteFull(c.obj(sha1hex), blob)
}
