package app

import (
	"sync"
	"time"
)

// NoticeKind classifies user-facing notices.
type NoticeKind string

const (
	// NoticeSpawnFailed is fatal: the backend could not be launched.
	NoticeSpawnFailed NoticeKind = "spawn_failed"
	// NoticeRuntimeMissing is advisory and raised at most once, by the startup
	// runtime probe.
	NoticeRuntimeMissing NoticeKind = "runtime_missing"
	NoticeExitedEarly    NoticeKind = "exited_early"
	NoticeBackendExited  NoticeKind = "backend_exited"
)

// Notice is something the interface layer should show the user.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	Fatal   bool       `json:"fatal"`
	At      time.Time  `json:"at"`
}

const maxNotices = 32

type noticeLog struct {
	mu    sync.Mutex
	items []Notice
}

func (l *noticeLog) add(n Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, n)
	if over := len(l.items) - maxNotices; over > 0 {
		l.items = append(l.items[:0:0], l.items[over:]...)
	}
}

func (l *noticeLog) list() []Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Notice, len(l.items))
	copy(out, l.items)
	return out
}
