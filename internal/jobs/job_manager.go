// Package jobs runs the scheduled maintenance tasks of the API process.
package jobs

import (
	"fmt"
)

// Job is a cron-scheduled task.
type Job interface {
	Name() string
	Start() error
	Stop()
}

// JobManager starts and stops a set of jobs together.
type JobManager struct {
	jobs    []Job
	started []Job
}

func NewJobManager(jobs ...Job) *JobManager {
	return &JobManager{jobs: jobs}
}

// StartAll starts every job. If one fails, the jobs already started are stopped again.
func (jm *JobManager) StartAll() error {
	for _, j := range jm.jobs {
		if err := j.Start(); err != nil {
			jm.StopAll()
			return fmt.Errorf("failed to start %s job: %w", j.Name(), err)
		}
		jm.started = append(jm.started, j)
	}
	return nil
}

// StopAll stops started jobs in reverse order and waits for running invocations.
func (jm *JobManager) StopAll() {
	for i := len(jm.started) - 1; i >= 0; i-- {
		jm.started[i].Stop()
	}
	jm.started = nil
}
