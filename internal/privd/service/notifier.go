package service

import (
	"log"
	"time"
)

// Notifier carries status notifications to the front end: privilege
// changes, periodic time-left updates while a grant is active, and policy
// replacements. The windowed UI itself is out of scope; implementations
// bridge to whatever channel the agent listens on.
type Notifier interface {
	PrivilegeChanged(user string, admin bool)
	TimeLeft(user string, left time.Duration)
	ConfigChanged()
}

// LogNotifier writes notifications to the daemon log. Used when no agent
// channel is wired up (dev runs, tests).
type LogNotifier struct {
	Logger *log.Logger
}

func (n *LogNotifier) PrivilegeChanged(user string, admin bool) {
	n.Logger.Printf("notify: privilege changed user=%s admin=%t", user, admin)
}

func (n *LogNotifier) TimeLeft(user string, left time.Duration) {
	n.Logger.Printf("notify: time left user=%s left=%s", user, left.Round(time.Second))
}

func (n *LogNotifier) ConfigChanged() {
	n.Logger.Printf("notify: config changed")
}
