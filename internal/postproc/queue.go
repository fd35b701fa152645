// Package postproc runs the work that happens after a conversation turn is
// answered: intent recording, fact extraction, and memory persistence. Jobs
// are fire-and-forget; their errors are logged and never reach the caller.
package postproc

import (
	"context"
	"sync"
	"time"

	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/bus"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/classifier"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/logging"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/memory"
)

// Job is one finished turn to be processed.
type Job struct {
	ctx            context.Context
	UserID         string
	ConversationID string
	Message        string
	Response       string
	RequestID      string
}

// Queue is a bounded worker pool. Submit never blocks: when the buffer is
// full the job is dropped and logged, which is acceptable because every job
// is best-effort by contract.
type Queue struct {
	store      *memory.Store
	classifier *classifier.Classifier
	events     *bus.Bus
	jobs       chan Job
	timeout    time.Duration
	log        *logging.Logger
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewQueue creates the queue and starts its workers.
func NewQueue(store *memory.Store, events *bus.Bus, workers, queueSize int, jobTimeout time.Duration) *Queue {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 16
	}
	q := &Queue{
		store:      store,
		classifier: classifier.New(),
		events:     events,
		jobs:       make(chan Job, queueSize),
		timeout:    jobTimeout,
		log:        logging.Global().WithComponent("postproc"),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit enqueues a finished turn. The request context is detached before
// the job runs, so a disconnecting caller cannot cancel queued work, while
// its values (request ID) survive for logging.
func (q *Queue) Submit(ctx context.Context, userID, conversationID, message, response, requestID string) {
	job := Job{
		ctx:            ctx,
		UserID:         userID,
		ConversationID: conversationID,
		Message:        message,
		Response:       response,
		RequestID:      requestID,
	}
	select {
	case q.jobs <- job:
	default:
		q.log.Warn("queue full, dropping post-processing for request %s", requestID)
		q.publish(bus.EventPostprocDropped, requestID, userID, "")
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.process(job)
	}
}

// process runs every step for one job. Steps are independent: a failed
// step logs and the rest still run.
func (q *Queue) process(job Job) {
	parent := job.ctx
	if parent == nil {
		parent = context.Background()
	}
	var ctx context.Context
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = logging.DetachContextWithTimeout(parent, q.timeout)
		defer cancel()
	} else {
		ctx = logging.DetachContext(parent)
	}

	start := time.Now()

	if err := q.persistTurns(ctx, job); err != nil {
		q.log.Error("persist turns for request %s: %v", job.RequestID, err)
	}
	if err := q.recordIntent(ctx, job); err != nil {
		q.log.Error("record intent for request %s: %v", job.RequestID, err)
	}
	if n, err := q.extractFacts(ctx, job); err != nil {
		q.log.Error("extract facts for request %s: %v", job.RequestID, err)
	} else if n > 0 {
		q.log.Info("stored %d extracted facts for user %s", n, job.UserID)
	}

	q.log.Debug("post-processing for request %s done in %v", job.RequestID, time.Since(start))
	q.publish(bus.EventPostprocCompleted, job.RequestID, job.UserID, "")
}

func (q *Queue) persistTurns(ctx context.Context, job Job) error {
	if err := q.store.AppendTurn(ctx, job.UserID, job.ConversationID, "user", job.Message); err != nil {
		return err
	}
	return q.store.AppendTurn(ctx, job.UserID, job.ConversationID, "assistant", job.Response)
}

func (q *Queue) recordIntent(ctx context.Context, job Job) error {
	intent := q.classifier.Classify(job.Message)
	return q.store.RecordIntent(ctx, job.UserID, job.ConversationID, intent.String(), intent.Confidence)
}

func (q *Queue) extractFacts(ctx context.Context, job Job) (int, error) {
	facts := ExtractFacts(job.Message)
	stored := 0
	for _, fact := range facts {
		if err := q.store.SaveFact(ctx, job.UserID, fact, "extraction"); err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}

func (q *Queue) publish(eventType bus.EventType, requestID, userID, errText string) {
	if q.events == nil {
		return
	}
	event := bus.NewEvent(eventType)
	event.RequestID = requestID
	event.UserID = userID
	event.Error = errText
	q.events.Publish(event)
}

// Close stops accepting jobs and drains the ones already queued.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.jobs)
	})
	q.wg.Wait()
}
