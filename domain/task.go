package domain

import "strings"

// NoAssignees is shown on a card whose task has nobody assigned.
const NoAssignees = "No one"

// Task represents a single board item as served by the tasks resource.
type Task struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	Status      Status `json:"status"`
	AssignedTo  []User `json:"assigned_to"`
}

// User is a member of the organisation who can be assigned to tasks.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// AssigneeIDs returns the ids of the assigned users in the order held.
func (t Task) AssigneeIDs() []int64 {
	ids := make([]int64, 0, len(t.AssignedTo))
	for _, u := range t.AssignedTo {
		ids = append(ids, u.ID)
	}
	return ids
}

// IsAssigned reports whether userID is among the task's assignees.
func (t Task) IsAssigned(userID int64) bool {
	for _, u := range t.AssignedTo {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// AssigneeNames joins assignee usernames for display.
func (t Task) AssigneeNames() string {
	if len(t.AssignedTo) == 0 {
		return NoAssignees
	}
	names := make([]string, 0, len(t.AssignedTo))
	for _, u := range t.AssignedTo {
		names = append(names, u.Username)
	}
	return strings.Join(names, ", ")
}

// Clone returns a copy that shares no slices with t.
func (t Task) Clone() Task {
	if t.AssignedTo != nil {
		t.AssignedTo = append([]User(nil), t.AssignedTo...)
	}
	return t
}

// Normalize forces an unknown status back to not_started and reports whether
// it had to.
func (t *Task) Normalize() bool {
	if t.Status.Valid() {
		return false
	}
	t.Status = StatusNotStarted
	return true
}
