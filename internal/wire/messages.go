// Package wire defines the messages exchanged between the coordinator and the
// workers and their binary encoding.
package wire

import (
	"strconv"

	"mandelbrot-dist/internal/domain"

	"github.com/google/uuid"
)

// Tag identifies the kind of a message on the wire. Control and data never
// share a tag: a stop is its own kind, not an empty work message.
type Tag uint8

const (
	TagProblem Tag = iota + 1
	TagStaticAssignment
	TagDynamicWork
	TagDynamicStop
	TagRowDone
)

func (t Tag) String() string {
	switch t {
	case TagProblem:
		return "ProblemBroadcast"
	case TagStaticAssignment:
		return "StaticAssignment"
	case TagDynamicWork:
		return "DynamicWork"
	case TagDynamicStop:
		return "DynamicStop"
	case TagRowDone:
		return "RowDone"
	}
	return "Tag(" + strconv.Itoa(int(t)) + ")"
}

// Message is one of ProblemBroadcast, StaticAssignment, DynamicWork,
// DynamicStop or RowDone.
type Message interface {
	Tag() Tag
}

// ProblemBroadcast is sent to every worker before work begins.
type ProblemBroadcast struct {
	RunID    uuid.UUID
	Problem  domain.Problem
	Compress bool // workers compress RowDone payloads
}

// StaticAssignment hands a worker its single contiguous block.
type StaticAssignment struct {
	Assignment domain.RowAssignment
}

// DynamicWork hands a worker one row.
type DynamicWork struct {
	Row int
}

// DynamicStop tells a worker no rows remain.
type DynamicStop struct{}

// RowDone carries a computed row back to the coordinator.
type RowDone struct {
	Result domain.RowResult
}

func (ProblemBroadcast) Tag() Tag { return TagProblem }
func (StaticAssignment) Tag() Tag { return TagStaticAssignment }
func (DynamicWork) Tag() Tag      { return TagDynamicWork }
func (DynamicStop) Tag() Tag      { return TagDynamicStop }
func (RowDone) Tag() Tag          { return TagRowDone }
