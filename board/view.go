package board

import "dashboard/domain"

// AdminBanner is shown above the board to users who may change assignments.
const AdminBanner = "Admin Mode: click names to assign/remove users"

var columnTitles = map[domain.Status]string{
	domain.StatusNotStarted: "To Do",
	domain.StatusInProcess:  "In Progress",
	domain.StatusDone:       "Done",
}

// ColumnTitle returns the display title of the column holding status s.
func ColumnTitle(s domain.Status) string {
	return columnTitles[s]
}

// View is everything needed to render the board.
type View struct {
	CurrentUser domain.CurrentUser `json:"current_user"`
	Banner      string             `json:"banner,omitempty"`
	Columns     []ColumnView       `json:"columns"`
}

// ColumnView is one status column.
type ColumnView struct {
	Status domain.Status `json:"status"`
	Title  string        `json:"title"`
	Count  int           `json:"count"`
	Cards  []Card        `json:"cards"`
}

// Card is one task as rendered inside a column.
type Card struct {
	Task        domain.Task    `json:"task"`
	Assignees   string         `json:"assignees"`
	CanForward  bool           `json:"can_forward"`
	CanBackward bool           `json:"can_backward"`
	Pending     bool           `json:"pending,omitempty"`
	Options     []AssignOption `json:"assign_options,omitempty"`
}

// AssignOption is a user that can be toggled on a card.
type AssignOption struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Assigned bool   `json:"assigned"`
}

// View builds the render model. Assignment options and the banner are only
// present for admins.
func (b *Board) View() View {
	b.mu.Lock()
	defer b.mu.Unlock()

	v := View{CurrentUser: b.me}
	if b.me.IsAdmin {
		v.Banner = AdminBanner
	}
	for _, s := range domain.Statuses() {
		tasks := b.column(s)
		col := ColumnView{Status: s, Title: ColumnTitle(s), Count: len(tasks), Cards: make([]Card, 0, len(tasks))}
		for _, t := range tasks {
			_, pending := b.pending[t.ID]
			card := Card{
				Task:        t,
				Assignees:   t.AssigneeNames(),
				CanForward:  domain.Offered(t.Status, domain.DirectionForward),
				CanBackward: domain.Offered(t.Status, domain.DirectionBackward),
				Pending:     pending,
			}
			if b.me.IsAdmin {
				card.Options = make([]AssignOption, 0, len(b.users))
				for _, u := range b.users {
					card.Options = append(card.Options, AssignOption{UserID: u.ID, Username: u.Username, Assigned: t.IsAssigned(u.ID)})
				}
			}
			col.Cards = append(col.Cards, card)
		}
		v.Columns = append(v.Columns, col)
	}
	return v
}

// AssignmentOffered reports whether the rendered board shows a toggle for
// userID on task id. It mirrors View and is not an authorization check.
func (b *Board) AssignmentOffered(id, userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.me.IsAdmin || b.indexOf(id) < 0 {
		return false
	}
	for _, u := range b.users {
		if u.ID == userID {
			return true
		}
	}
	return false
}
