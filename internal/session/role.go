package session

import "encoding/json"

// Role classifies a connection. Every connection starts as an Observer and
// is promoted at most once to Agent or Viewer; there is no reverse path.
type Role int

const (
	Observer Role = iota
	Agent
	Viewer
)

var roleNames = map[Role]string{
	Observer: "observer",
	Agent:    "agent",
	Viewer:   "viewer",
}

var roleFromName = map[string]Role{
	"observer": Observer,
	"agent":    Agent,
	"viewer":   Viewer,
}

func (r Role) String() string {
	if s, ok := roleNames[r]; ok {
		return s
	}
	return "unknown"
}

func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := roleFromName[s]; ok {
		*r = v
	}
	return nil
}
