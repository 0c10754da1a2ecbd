// Package run tracks the active run and course shared across components.
package run

import (
	"sync"

	"github.com/trailerlab/trailerd/pkg/core"
)

// Context holds the current run and course state
type Context struct {
	mu     sync.RWMutex
	Run    *core.Run
	Course *core.Course
}

// NewContext creates a new Context with default values
func NewContext() *Context {
	return &Context{
		Run:    &core.Run{Name: "No run active"},
		Course: &core.Course{Name: "No course loaded"},
	}
}

// GetRun returns the current run
func (rc *Context) GetRun() *core.Run {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.Run
}

// GetCourse returns the current course
func (rc *Context) GetCourse() *core.Course {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.Course
}

// SetRun sets the current run and course
func (rc *Context) SetRun(run *core.Run, course *core.Course) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.Run = run
	rc.Course = course
}
