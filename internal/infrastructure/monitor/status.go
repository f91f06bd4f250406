package monitor

import "time"

type Status struct {
	Online     bool            `json:"online"`
	Components map[string]bool `json:"components"`
	Buffer     bool            `json:"buffer"`
	BufferSize int             `json:"buffer_size"`
	LastCheck  time.Time       `json:"last_check"`
}

func (s Status) clone() Status {
	components := make(map[string]bool, len(s.Components))
	for k, v := range s.Components {
		components[k] = v
	}
	s.Components = components
	return s
}
