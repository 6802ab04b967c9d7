package app

import "github.com/dkeye/Presence/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a connection whose send queue is full.
type Policy interface {
	OnBackPressure(cid core.ConnID, event string) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.ConnID, string) BackpressureAction {
	return KickMember
}

type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.ConnID, string) BackpressureAction {
	return DropFrame
}

// PolicyFor maps the backpressure config value to a Policy.
func PolicyFor(name string) Policy {
	if name == "kick" {
		return SimplePolicy{}
	}
	return DropPolicy{}
}
