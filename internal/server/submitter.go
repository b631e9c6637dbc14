package server

import (
	"sort"

	"github.com/oar-team/batsim-go/internal/job"
	"github.com/oar-team/batsim-go/internal/workload"
)

// scheduleJobSubmitter replays one static workload's jobs into the
// mailbox: hello at t=0, one JobSubmitted per
// job at its subtime, bye after the last.
func (s *Server) scheduleJobSubmitter(name string, jobs []*job.Job) {
	ordered := append([]*job.Job(nil), jobs...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SubmissionTime < ordered[j].SubmissionTime
	})

	s.clock.At(0, func(float64) {
		s.deliver(Message{Type: MsgSubmitterHello, SubmitterName: name, SubmitterKind: SubmitterJobs})
	})
	lastTime := 0.0
	for _, j := range ordered {
		j := j
		if j.SubmissionTime > lastTime {
			lastTime = j.SubmissionTime
		}
		s.clock.At(j.SubmissionTime, func(float64) {
			s.deliver(Message{Type: MsgJobSubmitted, Job: j})
		})
	}
	s.clock.At(lastTime, func(float64) {
		s.deliver(Message{Type: MsgSubmitterBye, SubmitterName: name, SubmitterKind: SubmitterJobs})
	})
}

// scheduleEventSubmitter replays an external-event list into the mailbox
// at each event's timestamp.
func (s *Server) scheduleEventSubmitter(name string, events []workload.Event) {
	s.clock.At(0, func(float64) {
		s.deliver(Message{Type: MsgSubmitterHello, SubmitterName: name, SubmitterKind: SubmitterEvents})
	})
	lastTime := 0.0
	for _, ev := range events {
		ev := ev
		if ev.Timestamp > lastTime {
			lastTime = ev.Timestamp
		}
		s.clock.At(ev.Timestamp, func(float64) {
			s.deliver(Message{Type: MsgEventOccurred, ExternalEvent: &ev})
		})
	}
	s.clock.At(lastTime, func(float64) {
		s.deliver(Message{Type: MsgSubmitterBye, SubmitterName: name, SubmitterKind: SubmitterEvents})
	})
}
