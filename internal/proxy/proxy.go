package proxy

// Descriptor identifies a network egress proxy a session connects through.
type Descriptor struct {
	Server   string `toml:"server" json:"server"`
	Username string `toml:"username" json:"-"`
	Password string `toml:"password" json:"-"`
}

// Label returns the value reported in status events. Credentials are never
// included.
func (d *Descriptor) Label() string {
	if d == nil {
		return "direct"
	}
	return d.Server
}

// Assign maps a session identifier to a proxy from the list. The same
// identifier always maps to the same proxy for a given list; nothing mutable
// is consulted, so the assignment survives process restarts. Returns nil
// when the list is empty (direct connection).
func Assign(sessionID string, list []Descriptor) *Descriptor {
	if len(list) == 0 {
		return nil
	}
	var h int32
	for _, c := range sessionID {
		h = (h << 5) - h + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return &list[v%int64(len(list))]
}
