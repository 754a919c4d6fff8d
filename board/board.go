// Package board keeps the task board of one signed-in user in sync with the
// tasks resource.
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dashboard/client"
	"dashboard/domain"
	"dashboard/session"
)

var (
	ErrTaskNotFound         = errors.New("task not found on board")
	ErrTransitionNotOffered = errors.New("transition not offered for task status")
)

// Resources is the subset of the resource client the board needs.
type Resources interface {
	ListTasks(ctx context.Context, s session.Session) ([]domain.Task, error)
	ListUsers(ctx context.Context, s session.Session) ([]domain.User, error)
	CurrentUser(ctx context.Context, s session.Session) (domain.CurrentUser, error)
	PatchTask(ctx context.Context, s session.Session, id int64, patch client.TaskPatch) (domain.Task, error)
}

// Outcome describes how a status write ended for the local board.
type Outcome string

const (
	// OutcomeConfirmed means the server accepted the write and its copy of the
	// task replaced the local one.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeReverted means the write failed and the task went back to its
	// last confirmed state.
	OutcomeReverted Outcome = "reverted"
	// OutcomeSuperseded means a newer write on the same task was queued, so
	// this one's result did not touch the local task.
	OutcomeSuperseded Outcome = "superseded"
)

// AdvanceResult is the local task once a status write has settled.
type AdvanceResult struct {
	Task    domain.Task
	Outcome Outcome
}

// LoadResult carries the error of each independent read, if any.
type LoadResult struct {
	TasksErr error
	UsersErr error
	MeErr    error
}

// Err joins the read errors.
func (r LoadResult) Err() error {
	return errors.Join(r.TasksErr, r.UsersErr, r.MeErr)
}

// Board is the local state of the task board. It is safe for concurrent use;
// all mutations go through its methods.
type Board struct {
	res   Resources
	sess  session.Session
	log   *log.Logger
	queue *writeQueue

	mu        sync.Mutex
	tasks     []domain.Task
	confirmed map[int64]domain.Task
	pending   map[int64]uint64
	seq       uint64
	users     []domain.User
	me        domain.CurrentUser
	loaded    bool
}

// New creates an empty board for the given session.
func New(res Resources, s session.Session, logger *log.Logger) *Board {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Board{
		res:       res,
		sess:      s,
		log:       logger,
		queue:     newWriteQueue(),
		confirmed: make(map[int64]domain.Task),
		pending:   make(map[int64]uint64),
	}
}

// Load fetches tasks, users and the current user concurrently. A failed read
// leaves its part empty and does not affect the other two.
func (b *Board) Load(ctx context.Context) LoadResult {
	var (
		res   LoadResult
		tasks []domain.Task
		users []domain.User
		me    domain.CurrentUser
		g     errgroup.Group
	)
	g.Go(func() error {
		tasks, res.TasksErr = b.res.ListTasks(ctx, b.sess)
		return nil
	})
	g.Go(func() error {
		users, res.UsersErr = b.res.ListUsers(ctx, b.sess)
		return nil
	})
	g.Go(func() error {
		me, res.MeErr = b.res.CurrentUser(ctx, b.sess)
		return nil
	})
	_ = g.Wait()

	if res.TasksErr != nil {
		b.log.WithFields(log.Fields{"error": res.TasksErr}).Error("load tasks failed")
		tasks = nil
	}
	if res.UsersErr != nil {
		b.log.WithFields(log.Fields{"error": res.UsersErr}).Error("load users failed")
		users = nil
	}
	if res.MeErr != nil {
		b.log.WithFields(log.Fields{"error": res.MeErr}).Error("load current user failed")
		me = domain.CurrentUser{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = make([]domain.Task, 0, len(tasks))
	b.confirmed = make(map[int64]domain.Task, len(tasks))
	for _, t := range tasks {
		b.tasks = append(b.tasks, t.Clone())
		b.confirmed[t.ID] = t.Clone()
	}
	b.users = append([]domain.User(nil), users...)
	b.me = me
	b.loaded = true
	return res
}

// Loaded reports whether Load has run at least once.
func (b *Board) Loaded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loaded
}

// Tasks returns a copy of every task in fetch order.
func (b *Board) Tasks() []domain.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Task, 0, len(b.tasks))
	for _, t := range b.tasks {
		out = append(out, t.Clone())
	}
	return out
}

// Task returns a copy of the task with the given id.
func (b *Board) Task(id int64) (domain.Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOf(id)
	if i < 0 {
		return domain.Task{}, false
	}
	return b.tasks[i].Clone(), true
}

// Users returns the assignable users.
func (b *Board) Users() []domain.User {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.User(nil), b.users...)
}

// CurrentUser returns the signed-in user, or the zero value if unknown.
func (b *Board) CurrentUser() domain.CurrentUser {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.me
}

// Column returns the tasks whose status is s, in fetch order.
func (b *Board) Column(s domain.Status) []domain.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.column(s)
}

func (b *Board) column(s domain.Status) []domain.Task {
	out := make([]domain.Task, 0)
	for _, t := range b.tasks {
		if t.Status == s {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Pending reports whether a status write for the task is still unsettled.
func (b *Board) Pending(id int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[id]
	return ok
}

// Advance moves a task one step in direction d. The local task changes
// immediately; the write to the resource service is queued behind any earlier
// write on the same task. On failure the task returns to its last confirmed
// state unless a newer write has been queued since.
func (b *Board) Advance(ctx context.Context, id int64, d domain.Direction) (AdvanceResult, error) {
	b.mu.Lock()
	i := b.indexOf(id)
	if i < 0 {
		b.mu.Unlock()
		return AdvanceResult{}, ErrTaskNotFound
	}
	next, ok := domain.Next(b.tasks[i].Status, d)
	if !ok {
		task := b.tasks[i].Clone()
		b.mu.Unlock()
		return AdvanceResult{Task: task}, ErrTransitionNotOffered
	}
	from := b.tasks[i].Status
	b.tasks[i].Status = next
	b.seq++
	seq := b.seq
	b.pending[id] = seq
	t := b.queue.enqueue(id)
	b.mu.Unlock()

	logger := b.log.WithFields(log.Fields{"task_id": id, "from": from, "to": next, "seq": seq})
	if err := t.wait(ctx); err != nil {
		return b.settleStatus(logger, id, seq, domain.Task{}, err)
	}
	task, err := b.res.PatchTask(ctx, b.sess, id, client.StatusPatch(next))
	res, err := b.settleStatus(logger, id, seq, task, err)
	t.release()
	return res, err
}

func (b *Board) settleStatus(logger *log.Entry, id int64, seq uint64, task domain.Task, err error) (AdvanceResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	latest := b.pending[id] == seq
	if latest {
		delete(b.pending, id)
	}
	i := b.indexOf(id)

	if err != nil {
		err = fmt.Errorf("update status of task %d: %w", id, err)
		if !latest {
			logger.WithFields(log.Fields{"error": err}).Warn("status write failed, newer write pending")
			return AdvanceResult{Task: b.taskAt(i), Outcome: OutcomeSuperseded}, err
		}
		if snap, ok := b.confirmed[id]; ok && i >= 0 {
			b.tasks[i] = snap.Clone()
		}
		logger.WithFields(log.Fields{"error": err}).Warn("status write failed, reverted")
		return AdvanceResult{Task: b.taskAt(i), Outcome: OutcomeReverted}, err
	}

	b.confirmed[id] = task.Clone()
	if !latest {
		logger.Debug("status write confirmed, newer write pending")
		return AdvanceResult{Task: b.taskAt(i), Outcome: OutcomeSuperseded}, nil
	}
	if i >= 0 {
		b.tasks[i] = task.Clone()
	}
	logger.Debug("status write confirmed")
	return AdvanceResult{Task: task.Clone(), Outcome: OutcomeConfirmed}, nil
}

// ToggleAssignment adds userID to the task's assignees, or removes it if
// already there, and stores the server's copy of the task once the write
// succeeds. Nothing changes locally when it fails. Whether the caller may
// assign users is not checked here.
func (b *Board) ToggleAssignment(ctx context.Context, id, userID int64) (domain.Task, error) {
	b.mu.Lock()
	if b.indexOf(id) < 0 {
		b.mu.Unlock()
		return domain.Task{}, ErrTaskNotFound
	}
	t := b.queue.enqueue(id)
	b.mu.Unlock()

	if err := t.wait(ctx); err != nil {
		return domain.Task{}, fmt.Errorf("update assignees of task %d: %w", id, err)
	}
	defer t.release()

	// The set is computed once earlier writes on the task have settled, so
	// quick successive toggles build on each other.
	b.mu.Lock()
	i := b.indexOf(id)
	if i < 0 {
		b.mu.Unlock()
		return domain.Task{}, ErrTaskNotFound
	}
	ids := ToggleAssignees(b.tasks[i].AssigneeIDs(), userID)
	b.mu.Unlock()

	logger := b.log.WithFields(log.Fields{"task_id": id, "user_id": userID, "assigned_to_ids": ids})
	task, err := b.res.PatchTask(ctx, b.sess, id, client.AssigneesPatch(ids))
	if err != nil {
		err = fmt.Errorf("update assignees of task %d: %w", id, err)
		logger.WithFields(log.Fields{"error": err}).Warn("assignment write failed")
		return b.mustTask(id), err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmed[id] = task.Clone()
	i = b.indexOf(id)
	if i < 0 {
		return task.Clone(), nil
	}
	if _, busy := b.pending[id]; busy {
		// keep the optimistic status of the queued write
		b.tasks[i].AssignedTo = append([]domain.User(nil), task.AssignedTo...)
	} else {
		b.tasks[i] = task.Clone()
	}
	logger.Debug("assignment write confirmed")
	return b.tasks[i].Clone(), nil
}

func (b *Board) mustTask(id int64) domain.Task {
	task, _ := b.Task(id)
	return task
}

func (b *Board) taskAt(i int) domain.Task {
	if i < 0 {
		return domain.Task{}
	}
	return b.tasks[i].Clone()
}

func (b *Board) indexOf(id int64) int {
	for i := range b.tasks {
		if b.tasks[i].ID == id {
			return i
		}
	}
	return -1
}
