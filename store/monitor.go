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
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MonitorEvent is one line of the Redis MONITOR feed: the command an EVALed
// script issued through redis.call, timestamped the moment Engine.Dispatch
// ran it.
type MonitorEvent struct {
	When time.Time
	Args []string
}

func (e MonitorEvent) String() string {
	return fmt.Sprintf("%s %q", e.When.Format(time.RFC3339Nano), e.Args)
}

// Monitor fans Engine command dispatches out to websocket subscribers, the
// way scm/network.go's HTTPServe "websocket" builtin upgrades a connection
// and then pushes messages to it from a background goroutine — here the
// push source is Engine.Dispatch instead of a script-driven send callback.
type Monitor struct {
	mu   sync.Mutex
	subs map[*monitorSub]struct{}
}

type monitorSub struct {
	ws   *websocket.Conn
	send chan string
	done chan struct{}
}

func NewMonitor() *Monitor {
	return &Monitor{subs: map[*monitorSub]struct{}{}}
}

// Publish fans out ev to every connected subscriber without blocking the
// caller (Engine.Dispatch): a slow or dead subscriber drops messages
// instead of stalling command dispatch.
func (m *Monitor) Publish(ev MonitorEvent) {
	line := ev.String()
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subs {
		select {
		case sub.send <- line:
		default:
		}
	}
}

var monitorUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the request to a websocket and streams every
// subsequent Publish call to it until the client disconnects.
func (m *Monitor) ServeHTTP(res http.ResponseWriter, req *http.Request) {
	ws, err := monitorUpgrader.Upgrade(res, req, nil)
	if err != nil {
		return
	}
	sub := &monitorSub{ws: ws, send: make(chan string, 64), done: make(chan struct{})}

	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	unregister := func() {
		m.mu.Lock()
		if _, ok := m.subs[sub]; ok {
			delete(m.subs, sub)
			close(sub.done)
		}
		m.mu.Unlock()
	}
	defer ws.Close()

	// discard anything the client sends; MONITOR is output-only. Reading
	// is still required so the read loop notices the connection closing.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				unregister()
				return
			}
		}
	}()

	for {
		select {
		case line := <-sub.send:
			if err := ws.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				unregister()
				return
			}
		case <-sub.done:
			return
		}
	}
}
