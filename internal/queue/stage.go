package queue

import "fmt"

// Stage is the lifecycle bucket a job occupies. It is never stored inside the
// job; it is the directory that currently holds the job file.
type Stage int

const (
	StagePending Stage = iota
	StageInFlight
	StageFailed
)

var stageDirs = map[Stage]string{
	StagePending:  "print-queue",
	StageInFlight: "print-processing",
	StageFailed:   "print-failed",
}

var allStages = []Stage{StagePending, StageInFlight, StageFailed}

// Dir returns the directory name of the stage relative to the queue root.
func (s Stage) Dir() string {
	return stageDirs[s]
}

func (s Stage) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageInFlight:
		return "in-flight"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

func (s Stage) valid() bool {
	_, ok := stageDirs[s]
	return ok
}
