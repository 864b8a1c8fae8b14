package service

import "time"

// Clock supplies the current time. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
