package board

// ToggleAssignees flips the membership of userID in current. A present id is
// removed keeping the order of the rest, an absent one is appended. Applying
// it twice with the same user gives back the original set. current is never
// modified.
func ToggleAssignees(current []int64, userID int64) []int64 {
	out := make([]int64, 0, len(current)+1)
	found := false
	for _, id := range current {
		if id == userID {
			found = true
			continue
		}
		out = append(out, id)
	}
	if !found {
		out = append(out, userID)
	}
	return out
}
