package domain

// Status is the lifecycle state of a logistics or loan request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

var statusTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusApproved: {},
		StatusRejected: {},
	},
}

func ParseStatus(value string) (Status, bool) {
	switch Status(value) {
	case StatusPending, StatusApproved, StatusRejected:
		return Status(value), true
	default:
		return "", false
	}
}

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Transition validates moving from current to next. It returns changed=false
// for an idempotent repeat of a terminal status.
func Transition(current, next Status) (changed bool, err error) {
	if _, ok := ParseStatus(string(next)); !ok {
		return false, WrapError(ErrCodeValidation, "unknown status "+string(next), nil)
	}
	if current == next && current.Terminal() {
		return false, nil
	}
	if _, ok := statusTransitions[current][next]; !ok {
		return false, WrapError(ErrCodeInvalidTransition, "cannot move from "+string(current)+" to "+string(next), nil)
	}
	return true, nil
}
