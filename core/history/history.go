// Package history keeps bounded undo/redo stacks of project snapshots.
package history

import "github.com/hajimeno-ipoo/NodeVision-Editor/core/project"

const DefaultLimit = 50

// Stack holds past and future snapshots. Every entry is a private clone.
// future is only non-empty right after an Undo; PushPast clears it.
type Stack struct {
	limit  int
	past   []*project.Project
	future []*project.Project
}

func New(limit int) *Stack {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Stack{limit: limit}
}

func (s *Stack) Limit() int {
	return s.limit
}

// PushPast records the document as it was before a history-worthy edit.
func (s *Stack) PushPast(snapshot *project.Project) {
	if snapshot == nil {
		return
	}
	s.appendPast(snapshot.Clone())
	s.future = nil
}

// Undo pops the newest past entry and parks current at the front of future.
func (s *Stack) Undo(current *project.Project) (*project.Project, bool) {
	if len(s.past) == 0 || current == nil {
		return nil, false
	}
	last := len(s.past) - 1
	previous := s.past[last]
	s.past[last] = nil
	s.past = s.past[:last]

	s.future = append([]*project.Project{current.Clone()}, s.future...)
	if len(s.future) > s.limit {
		s.future = s.future[:s.limit]
	}
	return previous.Clone(), true
}

// Redo pops the front of future and appends current to past.
func (s *Stack) Redo(current *project.Project) (*project.Project, bool) {
	if len(s.future) == 0 || current == nil {
		return nil, false
	}
	next := s.future[0]
	s.future = s.future[1:]
	s.appendPast(current.Clone())
	return next.Clone(), true
}

// Reset drops both stacks; used when the document is replaced wholesale.
func (s *Stack) Reset() {
	s.past = nil
	s.future = nil
}

func (s *Stack) CanUndo() bool {
	return len(s.past) > 0
}

func (s *Stack) CanRedo() bool {
	return len(s.future) > 0
}

func (s *Stack) Len() (past, future int) {
	return len(s.past), len(s.future)
}

func (s *Stack) appendPast(snapshot *project.Project) {
	s.past = append(s.past, snapshot)
	if overflow := len(s.past) - s.limit; overflow > 0 {
		clear(s.past[:overflow])
		s.past = append([]*project.Project(nil), s.past[overflow:]...)
	}
}
