package offline

import (
	"fmt"

	"github.com/ChuLiYu/fbs-kiosk/internal/bus"
	"github.com/ChuLiYu/fbs-kiosk/internal/fbs"
	"github.com/ChuLiYu/fbs-kiosk/pkg/types"
)

// Bus events served by the offline queues.
const (
	EventAddCheckout = "offline.add.checkout"
	EventAddCheckin  = "offline.add.checkin"
	EventFailedJobs  = "offline.failed.jobs"
	EventCounts      = "offline.counts"

	// reply names for queued jobs are offline.result.<uuid> / offline.error.<uuid>
	replyPrefix = "offline"
)

// addRequest is the payload of offline.add.*. The envelope is optional and
// only used to answer with the job id.
type addRequest struct {
	bus.Envelope
	types.Payload
}

// queryRequest is the payload of offline.failed.jobs and offline.counts.
// Without Type every queue is reported.
type queryRequest struct {
	bus.Envelope
	Type types.JobType `json:"type,omitempty"`
}

// Added is the reply to offline.add.*.
type Added struct {
	JobID       types.JobID   `json:"jobId"`
	Type        types.JobType `json:"type"`
	ResultEvent string        `json:"resultEvent"`
	ErrorEvent  string        `json:"errorEvent"`
}

// Service connects the queues to the bus.
type Service struct {
	bus    bus.Bus
	queues map[types.JobType]*Queue
	order  []types.JobType
}

// NewService registers queues by their type.
func NewService(b bus.Bus, queues ...*Queue) *Service {
	s := &Service{bus: b, queues: make(map[types.JobType]*Queue, len(queues))}
	for _, q := range queues {
		s.queues[q.Type()] = q
		s.order = append(s.order, q.Type())
	}
	return s
}

// Queue returns the queue for t.
func (s *Service) Queue(t types.JobType) (*Queue, bool) {
	q, ok := s.queues[t]
	return q, ok
}

// Start subscribes to the offline.* requests and to connectivity changes.
// The returned function unsubscribes.
func (s *Service) Start() (stop func()) {
	offs := []func(){
		s.bus.On(EventAddCheckout, s.add(types.JobCheckout)),
		s.bus.On(EventAddCheckin, s.add(types.JobCheckin)),
		s.bus.On(EventFailedJobs, s.failedJobs),
		s.bus.On(EventCounts, s.counts),
		s.bus.On(fbs.EventOnline, func(string, any) { s.ResumeAll() }),
		s.bus.On(fbs.EventOffline, func(string, any) { s.PauseAll() }),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// ResumeAll resumes every queue.
func (s *Service) ResumeAll() {
	for _, t := range s.order {
		s.queues[t].Resume()
	}
}

// PauseAll pauses every queue.
func (s *Service) PauseAll() {
	for _, t := range s.order {
		s.queues[t].Pause()
	}
}

// Enqueue adds a transaction to the queue for t with fresh reply names.
func (s *Service) Enqueue(t types.JobType, p types.Payload) (Added, error) {
	q, ok := s.queues[t]
	if !ok {
		return Added{}, fmt.Errorf("offline: no queue for %q", t)
	}

	names := bus.ReplyNames(replyPrefix)
	id, err := q.Enqueue(types.Job{
		Payload:     p,
		ResultEvent: names.BusEvent,
		ErrorEvent:  names.ErrorEvent,
	})
	if err != nil {
		return Added{}, err
	}
	return Added{JobID: id, Type: t, ResultEvent: names.BusEvent, ErrorEvent: names.ErrorEvent}, nil
}

// FailedJobs lists failed jobs of t, or of every queue when t is empty.
func (s *Service) FailedJobs(t types.JobType) ([]types.FailedJob, error) {
	if t != "" {
		q, ok := s.queues[t]
		if !ok {
			return nil, fmt.Errorf("offline: no queue for %q", t)
		}
		return q.FailedJobs(), nil
	}

	out := make([]types.FailedJob, 0)
	for _, name := range s.order {
		out = append(out, s.queues[name].FailedJobs()...)
	}
	return out, nil
}

// Counts returns the counts of every queue keyed by type.
func (s *Service) Counts() map[types.JobType]types.Counts {
	out := make(map[types.JobType]types.Counts, len(s.queues))
	for t, q := range s.queues {
		out[t] = q.Counts()
	}
	return out
}

// ============================================================================
// Bus handlers
// ============================================================================

func (s *Service) add(t types.JobType) bus.Handler {
	return func(event string, payload any) {
		var req addRequest
		if err := bus.Decode(payload, &req); err != nil {
			log.Error("Invalid offline request", "event", event, "error", err)
			bus.Reply(s.bus, req.Envelope, nil, err)
			return
		}

		added, err := s.Enqueue(t, req.Payload)
		if err != nil {
			log.Error("Failed to enqueue offline job", "queue", t, "error", err)
		} else {
			log.Info("Offline job enqueued", "queue", t, "jobID", added.JobID, "item", req.ItemIdentifier)
		}
		bus.Reply(s.bus, req.Envelope, added, err)
	}
}

func (s *Service) failedJobs(event string, payload any) {
	var req queryRequest
	if err := bus.Decode(payload, &req); err != nil {
		bus.Reply(s.bus, req.Envelope, nil, err)
		return
	}
	jobs, err := s.FailedJobs(req.Type)
	bus.Reply(s.bus, req.Envelope, jobs, err)
}

func (s *Service) counts(event string, payload any) {
	var req queryRequest
	if err := bus.Decode(payload, &req); err != nil {
		bus.Reply(s.bus, req.Envelope, nil, err)
		return
	}
	if req.Type == "" {
		bus.Reply(s.bus, req.Envelope, s.Counts(), nil)
		return
	}
	q, ok := s.queues[req.Type]
	if !ok {
		bus.Reply(s.bus, req.Envelope, nil, fmt.Errorf("offline: no queue for %q", req.Type))
		return
	}
	bus.Reply(s.bus, req.Envelope, q.Counts(), nil)
}
