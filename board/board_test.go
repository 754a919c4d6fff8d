package board

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"dashboard/client"
	"dashboard/domain"
	"dashboard/session"
)

type stubResources struct {
	listTasksFn   func(ctx context.Context) ([]domain.Task, error)
	listUsersFn   func(ctx context.Context) ([]domain.User, error)
	currentUserFn func(ctx context.Context) (domain.CurrentUser, error)
	patchTaskFn   func(ctx context.Context, id int64, patch client.TaskPatch) (domain.Task, error)
}

func (s *stubResources) ListTasks(ctx context.Context, _ session.Session) ([]domain.Task, error) {
	if s.listTasksFn == nil {
		return nil, errors.New("unexpected ListTasks call")
	}
	return s.listTasksFn(ctx)
}

func (s *stubResources) ListUsers(ctx context.Context, _ session.Session) ([]domain.User, error) {
	if s.listUsersFn == nil {
		return nil, errors.New("unexpected ListUsers call")
	}
	return s.listUsersFn(ctx)
}

func (s *stubResources) CurrentUser(ctx context.Context, _ session.Session) (domain.CurrentUser, error) {
	if s.currentUserFn == nil {
		return domain.CurrentUser{}, errors.New("unexpected CurrentUser call")
	}
	return s.currentUserFn(ctx)
}

func (s *stubResources) PatchTask(ctx context.Context, _ session.Session, id int64, patch client.TaskPatch) (domain.Task, error) {
	if s.patchTaskFn == nil {
		return domain.Task{}, errors.New("unexpected PatchTask call")
	}
	return s.patchTaskFn(ctx, id, patch)
}

var (
	ann = domain.User{ID: 1, Username: "ann"}
	bob = domain.User{ID: 2, Username: "bob"}
)

func sampleTasks() []domain.Task {
	return []domain.Task{
		{ID: 1, Title: "a", Status: domain.StatusNotStarted},
		{ID: 2, Title: "b", Status: domain.StatusDone, AssignedTo: []domain.User{ann}},
		{ID: 3, Title: "c", Status: domain.StatusNotStarted},
		{ID: 4, Title: "d", Status: domain.StatusInProcess},
	}
}

func loadedBoard(t *testing.T, res *stubResources, me domain.CurrentUser) *Board {
	t.Helper()
	if res.listTasksFn == nil {
		res.listTasksFn = func(context.Context) ([]domain.Task, error) { return sampleTasks(), nil }
	}
	if res.listUsersFn == nil {
		res.listUsersFn = func(context.Context) ([]domain.User, error) { return []domain.User{ann, bob}, nil }
	}
	if res.currentUserFn == nil {
		res.currentUserFn = func(context.Context) (domain.CurrentUser, error) { return me, nil }
	}
	logger, _ := test.NewNullLogger()
	b := New(res, session.Session{Token: "tok"}, logger)
	if err := b.Load(context.Background()).Err(); err != nil {
		t.Fatalf("load: %v", err)
	}
	return b
}

func ids(tasks []domain.Task) []int64 {
	out := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func TestColumnsPartitionTasksInFetchOrder(t *testing.T) {
	b := loadedBoard(t, &stubResources{}, domain.CurrentUser{})

	want := map[domain.Status][]int64{
		domain.StatusNotStarted: {1, 3},
		domain.StatusInProcess:  {4},
		domain.StatusDone:       {2},
	}
	total := 0
	for _, s := range domain.Statuses() {
		got := ids(b.Column(s))
		if !reflect.DeepEqual(got, want[s]) {
			t.Fatalf("column %s = %v, want %v", s, got, want[s])
		}
		total += len(got)
	}
	if total != len(sampleTasks()) {
		t.Fatalf("columns hold %d tasks, want %d", total, len(sampleTasks()))
	}
}

func TestLoadFailuresAreIndependent(t *testing.T) {
	logger, hook := test.NewNullLogger()
	res := &stubResources{
		listTasksFn:   func(context.Context) ([]domain.Task, error) { return nil, errors.New("tasks down") },
		listUsersFn:   func(context.Context) ([]domain.User, error) { return []domain.User{ann}, nil },
		currentUserFn: func(context.Context) (domain.CurrentUser, error) { return domain.CurrentUser{Username: "ann", IsAdmin: true}, nil },
	}
	b := New(res, session.Session{Token: "tok"}, logger)

	result := b.Load(context.Background())
	if result.TasksErr == nil || result.UsersErr != nil || result.MeErr != nil {
		t.Fatalf("unexpected load result: %+v", result)
	}
	if len(b.Tasks()) != 0 {
		t.Fatalf("expected no tasks")
	}
	if len(b.Users()) != 1 {
		t.Fatalf("expected users to load")
	}
	if me := b.CurrentUser(); me.Username != "ann" || !me.IsAdmin {
		t.Fatalf("expected current user to load, got %+v", me)
	}
	if !b.Loaded() {
		t.Fatalf("board should be marked loaded")
	}
	if hook.LastEntry() == nil {
		t.Fatalf("expected the failure to be logged")
	}
}

func TestLoadCurrentUserFailureDefaultsToNonAdmin(t *testing.T) {
	res := &stubResources{
		listTasksFn:   func(context.Context) ([]domain.Task, error) { return sampleTasks(), nil },
		listUsersFn:   func(context.Context) ([]domain.User, error) { return nil, errors.New("users down") },
		currentUserFn: func(context.Context) (domain.CurrentUser, error) { return domain.CurrentUser{IsAdmin: true}, errors.New("me down") },
	}
	logger, _ := test.NewNullLogger()
	b := New(res, session.Session{Token: "tok"}, logger)
	b.Load(context.Background())

	if b.CurrentUser().IsAdmin {
		t.Fatalf("failed identity read must not grant admin")
	}
	if len(b.Tasks()) != 4 {
		t.Fatalf("tasks should still load")
	}
}

func TestAdvanceForwardConfirmsWithServerCopy(t *testing.T) {
	res := &stubResources{
		patchTaskFn: func(_ context.Context, id int64, patch client.TaskPatch) (domain.Task, error) {
			if patch.Status == nil || *patch.Status != domain.StatusInProcess || patch.AssignedToIDs != nil {
				t.Errorf("unexpected patch %+v", patch)
			}
			return domain.Task{ID: id, Title: "a (server)", Status: domain.StatusInProcess}, nil
		},
	}
	b := loadedBoard(t, res, domain.CurrentUser{})

	result, err := b.Advance(context.Background(), 1, domain.DirectionForward)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if result.Outcome != OutcomeConfirmed {
		t.Fatalf("unexpected outcome %s", result.Outcome)
	}
	task, _ := b.Task(1)
	if task.Status != domain.StatusInProcess || task.Title != "a (server)" {
		t.Fatalf("local task not reconciled: %+v", task)
	}
	if b.Pending(1) {
		t.Fatalf("write should have settled")
	}
}

func TestAdvanceBackwardAlwaysReturnsToFirstColumn(t *testing.T) {
	res := &stubResources{
		patchTaskFn: func(_ context.Context, id int64, patch client.TaskPatch) (domain.Task, error) {
			return domain.Task{ID: id, Status: *patch.Status}, nil
		},
	}
	b := loadedBoard(t, res, domain.CurrentUser{})

	for _, id := range []int64{2, 4} {
		if _, err := b.Advance(context.Background(), id, domain.DirectionBackward); err != nil {
			t.Fatalf("advance %d: %v", id, err)
		}
		task, _ := b.Task(id)
		if task.Status != domain.StatusNotStarted {
			t.Fatalf("task %d status = %s, want not_started", id, task.Status)
		}
	}
}

func TestAdvanceNotOfferedDoesNotWrite(t *testing.T) {
	b := loadedBoard(t, &stubResources{}, domain.CurrentUser{})

	if _, err := b.Advance(context.Background(), 2, domain.DirectionForward); !errors.Is(err, ErrTransitionNotOffered) {
		t.Fatalf("forward from done: expected ErrTransitionNotOffered, got %v", err)
	}
	if _, err := b.Advance(context.Background(), 1, domain.DirectionBackward); !errors.Is(err, ErrTransitionNotOffered) {
		t.Fatalf("backward from not_started: expected ErrTransitionNotOffered, got %v", err)
	}
	if _, err := b.Advance(context.Background(), 99, domain.DirectionForward); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestAdvanceFailureRevertsToConfirmedState(t *testing.T) {
	res := &stubResources{
		patchTaskFn: func(context.Context, int64, client.TaskPatch) (domain.Task, error) {
			return domain.Task{}, &client.StatusError{Code: 500}
		},
	}
	b := loadedBoard(t, res, domain.CurrentUser{})

	result, err := b.Advance(context.Background(), 4, domain.DirectionForward)
	var se *client.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected wrapped StatusError, got %v", err)
	}
	if result.Outcome != OutcomeReverted {
		t.Fatalf("unexpected outcome %s", result.Outcome)
	}
	task, _ := b.Task(4)
	if task.Status != domain.StatusInProcess {
		t.Fatalf("expected revert to in_process, got %s", task.Status)
	}
}

func TestSameTaskWritesApplyInQueueOrder(t *testing.T) {
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	var (
		calls int32
		mu    sync.Mutex
		sent  []domain.Status
	)
	res := &stubResources{
		patchTaskFn: func(_ context.Context, id int64, patch client.TaskPatch) (domain.Task, error) {
			mu.Lock()
			sent = append(sent, *patch.Status)
			mu.Unlock()
			if atomic.AddInt32(&calls, 1) == 1 {
				close(firstStarted)
				<-releaseFirst
				return domain.Task{}, errors.New("first write lost")
			}
			return domain.Task{ID: id, Title: "a", Status: *patch.Status}, nil
		},
	}
	b := loadedBoard(t, res, domain.CurrentUser{})

	type outcome struct {
		res AdvanceResult
		err error
	}
	first := make(chan outcome, 1)
	second := make(chan outcome, 1)
	go func() {
		r, err := b.Advance(context.Background(), 1, domain.DirectionForward)
		first <- outcome{r, err}
	}()
	<-firstStarted

	go func() {
		r, err := b.Advance(context.Background(), 1, domain.DirectionForward)
		second <- outcome{r, err}
	}()
	deadline := time.Now().Add(time.Second)
	for {
		if task, _ := b.Task(1); task.Status == domain.StatusDone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("second advance never applied locally")
		}
		time.Sleep(time.Millisecond)
	}
	close(releaseFirst)

	o1 := <-first
	if o1.err == nil || o1.res.Outcome != OutcomeSuperseded {
		t.Fatalf("first write: expected superseded failure, got %+v / %v", o1.res, o1.err)
	}
	o2 := <-second
	if o2.err != nil || o2.res.Outcome != OutcomeConfirmed {
		t.Fatalf("second write: expected confirmed, got %+v / %v", o2.res, o2.err)
	}
	if task, _ := b.Task(1); task.Status != domain.StatusDone {
		t.Fatalf("last queued write must win, got %s", task.Status)
	}
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(sent, []domain.Status{domain.StatusInProcess, domain.StatusDone}) {
		t.Fatalf("writes sent out of order: %v", sent)
	}
}

func TestStatusWriteSettlesBeforeNextQueuedWrite(t *testing.T) {
	statusStarted := make(chan struct{})
	releaseStatus := make(chan struct{})
	var (
		b               *Board
		pendingAtToggle atomic.Bool
	)
	res := &stubResources{
		patchTaskFn: func(_ context.Context, id int64, patch client.TaskPatch) (domain.Task, error) {
			if patch.Status != nil {
				close(statusStarted)
				<-releaseStatus
				return domain.Task{ID: id, Title: "a", Status: *patch.Status, AssignedTo: []domain.User{}}, nil
			}
			pendingAtToggle.Store(b.Pending(id))
			return domain.Task{ID: id, Title: "a", Status: domain.StatusInProcess, AssignedTo: []domain.User{bob}}, nil
		},
	}
	b = loadedBoard(t, res, domain.CurrentUser{IsAdmin: true})

	advanced := make(chan error, 1)
	go func() {
		_, err := b.Advance(context.Background(), 1, domain.DirectionForward)
		advanced <- err
	}()
	<-statusStarted

	toggled := make(chan error, 1)
	go func() {
		_, err := b.ToggleAssignment(context.Background(), 1, bob.ID)
		toggled <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(releaseStatus)

	if err := <-advanced; err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := <-toggled; err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if pendingAtToggle.Load() {
		t.Fatalf("assignment write started before the status write settled")
	}
	task, _ := b.Task(1)
	if task.Status != domain.StatusInProcess || !reflect.DeepEqual(task.AssigneeIDs(), []int64{bob.ID}) {
		t.Fatalf("stale status response overwrote the later write: %+v", task)
	}
}

func TestToggleAssignmentIsPessimisticAndInvolutive(t *testing.T) {
	var server []int64
	users := map[int64]domain.User{ann.ID: ann, bob.ID: bob}
	res := &stubResources{
		patchTaskFn: func(_ context.Context, id int64, patch client.TaskPatch) (domain.Task, error) {
			if patch.Status != nil || patch.AssignedToIDs == nil {
				t.Errorf("unexpected patch %+v", patch)
			}
			server = append([]int64(nil), (*patch.AssignedToIDs)...)
			task := domain.Task{ID: id, Title: "b", Status: domain.StatusDone, AssignedTo: []domain.User{}}
			for _, uid := range server {
				task.AssignedTo = append(task.AssignedTo, users[uid])
			}
			return task, nil
		},
	}
	b := loadedBoard(t, res, domain.CurrentUser{IsAdmin: true})

	task, err := b.ToggleAssignment(context.Background(), 2, bob.ID)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !reflect.DeepEqual(task.AssigneeIDs(), []int64{1, 2}) || !reflect.DeepEqual(server, []int64{1, 2}) {
		t.Fatalf("unexpected assignees after add: local %v server %v", task.AssigneeIDs(), server)
	}

	task, err = b.ToggleAssignment(context.Background(), 2, bob.ID)
	if err != nil {
		t.Fatalf("toggle back: %v", err)
	}
	if !reflect.DeepEqual(task.AssigneeIDs(), []int64{1}) {
		t.Fatalf("toggling twice should restore the set, got %v", task.AssigneeIDs())
	}
}

func TestToggleAssignmentFailureLeavesTaskUnchanged(t *testing.T) {
	res := &stubResources{
		patchTaskFn: func(context.Context, int64, client.TaskPatch) (domain.Task, error) {
			return domain.Task{}, &client.StatusError{Code: 403}
		},
	}
	b := loadedBoard(t, res, domain.CurrentUser{IsAdmin: true})

	task, err := b.ToggleAssignment(context.Background(), 2, bob.ID)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !reflect.DeepEqual(task.AssigneeIDs(), []int64{1}) {
		t.Fatalf("local assignees changed on failure: %v", task.AssigneeIDs())
	}
	if _, err := b.ToggleAssignment(context.Background(), 99, bob.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestToggleAssignmentMakesNoAuthorizationDecision(t *testing.T) {
	var called bool
	res := &stubResources{
		patchTaskFn: func(_ context.Context, id int64, patch client.TaskPatch) (domain.Task, error) {
			called = true
			return domain.Task{ID: id, Status: domain.StatusNotStarted, AssignedTo: []domain.User{bob}}, nil
		},
	}
	b := loadedBoard(t, res, domain.CurrentUser{Username: "plain"})

	if b.AssignmentOffered(1, bob.ID) {
		t.Fatalf("non-admin must not be offered the toggle")
	}
	if _, err := b.ToggleAssignment(context.Background(), 1, bob.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !called {
		t.Fatalf("board should forward the write regardless of admin flag")
	}
}

func TestViewGatesAssignmentOptionsOnAdmin(t *testing.T) {
	plain := loadedBoard(t, &stubResources{}, domain.CurrentUser{Username: "plain"}).View()
	if plain.Banner != "" {
		t.Fatalf("non-admin should not see the banner")
	}
	for _, col := range plain.Columns {
		for _, card := range col.Cards {
			if len(card.Options) != 0 {
				t.Fatalf("non-admin card %d has assignment options", card.Task.ID)
			}
		}
	}

	admin := loadedBoard(t, &stubResources{}, domain.CurrentUser{Username: "boss", IsAdmin: true}).View()
	if admin.Banner != AdminBanner {
		t.Fatalf("unexpected banner %q", admin.Banner)
	}
	if len(admin.Columns) != 3 || admin.Columns[0].Title != "To Do" || admin.Columns[1].Title != "In Progress" || admin.Columns[2].Title != "Done" {
		t.Fatalf("unexpected columns %+v", admin.Columns)
	}
	done := admin.Columns[2]
	if done.Count != 1 || done.Cards[0].Assignees != "ann" || done.Cards[0].CanForward || !done.Cards[0].CanBackward {
		t.Fatalf("unexpected done column %+v", done)
	}
	opts := done.Cards[0].Options
	if len(opts) != 2 || !opts[0].Assigned || opts[1].Assigned {
		t.Fatalf("unexpected options %+v", opts)
	}
	if admin.Columns[0].Cards[0].Assignees != domain.NoAssignees {
		t.Fatalf("expected %q for unassigned card", domain.NoAssignees)
	}
}
