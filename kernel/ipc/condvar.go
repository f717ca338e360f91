package ipc

import "los/kernel/proc"

// ConditionalVariable is a bare wait queue.
type ConditionalVariable struct {
	queue proc.ThreadQueue
}

// NewConditionalVariable returns an empty condition variable.
func NewConditionalVariable() *ConditionalVariable {
	return &ConditionalVariable{}
}

// Wait suspends the calling thread on the queue.
func (cv *ConditionalVariable) Wait() {
	proc.Yield(&cv.queue)
}

// Signal wakes one waiter.
func (cv *ConditionalVariable) Signal() {
	proc.WakeOne(&cv.queue)
}

// Broadcast wakes all waiters.
func (cv *ConditionalVariable) Broadcast() int {
	return proc.WakeAll(&cv.queue)
}
