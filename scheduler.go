package qnsolve

// scheduler.go sequences the steps of a sweep as events on a virtual-time event
// manager.  Step i runs at virtual time i seconds; when a step finishes, the next one
// is scheduled only if the step asks for it, so a sweep is strictly sequential and
// stops cleanly between steps.

import (
	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// stepFunc runs one step and reports whether the next step should be scheduled
type stepFunc func(evtMgr *evtm.EventManager, task *StepTask) bool

// StepTask describes one step of a sweep
type StepTask struct {
	Idx   int     // position in the sweep
	Value float64 // swept value applied at this step
}

// StepScheduler holds the steps still to run and the function that runs them
type StepScheduler struct {
	evtMgr  *evtm.EventManager
	waiting []*StepTask
	exec    stepFunc
	ran     int
}

// CreateStepScheduler is a constructor
func CreateStepScheduler(values []float64, exec stepFunc) *StepScheduler {
	ss := new(StepScheduler)
	ss.evtMgr = evtm.New()
	ss.exec = exec
	for idx, v := range values {
		ss.waiting = append(ss.waiting, &StepTask{Idx: idx, Value: v})
	}
	return ss
}

// Run schedules the first step and drives the event manager until no step remains
func (ss *StepScheduler) Run() int {
	steps := len(ss.waiting)
	if steps == 0 {
		return 0
	}
	ss.scheduleNext(vrtime.SecondsToTime(0))
	ss.evtMgr.Run(float64(steps))
	return ss.ran
}

// scheduleNext puts the first waiting step on the event list after the given delay
func (ss *StepScheduler) scheduleNext(after vrtime.Time) {
	if len(ss.waiting) == 0 {
		return
	}
	task := ss.waiting[0]
	ss.waiting = ss.waiting[1:]
	ss.evtMgr.Schedule(ss, task, stepComplete, after)
}

// stepComplete is the event handler that runs a step and chains the next one
func stepComplete(evtMgr *evtm.EventManager, context any, data any) any {
	ss := context.(*StepScheduler)
	task := data.(*StepTask)
	ss.ran += 1
	if ss.exec(evtMgr, task) {
		ss.scheduleNext(vrtime.SecondsToTime(1.0))
	}
	return nil
}
