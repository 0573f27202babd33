package service

import (
	"time"

	"sessiond/internal/domain"
)

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// NewRealClock returns the wall clock. Deadline checks read it once at
// operation entry; nothing in the engine runs on a timer.
func NewRealClock() domain.Clock { return realClock{} }
