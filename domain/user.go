package domain

import "github.com/bytedance/sonic"

// CurrentUser is the identity of the signed-in user as reported by the "me"
// resource. The zero value is the unauthenticated default.
type CurrentUser struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// UnmarshalJSON decodes leniently: is_admin is true only for the JSON literal
// true, and a malformed username is treated as empty.
func (u *CurrentUser) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := CurrentUser{}
	if name, ok := raw["username"].(string); ok {
		out.Username = name
	}
	if admin, ok := raw["is_admin"].(bool); ok {
		out.IsAdmin = admin
	}
	*u = out
	return nil
}
