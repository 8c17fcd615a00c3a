package service

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// sessionLocks serialises document attachment against chat resolution per session.
type sessionLocks struct {
	stripes [lockStripes]sync.RWMutex
}

func (l *sessionLocks) forSession(id string) *sync.RWMutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &l.stripes[h.Sum32()%lockStripes]
}
