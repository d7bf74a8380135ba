// Package stats exposes live gauges for the messaging core over
// /debug/vars. The hub and registry feed it.
package stats

import (
	"expvar"
	"net/http"
)

const (
	Connections  = "Connections"
	LiveChannels = "LiveChannels"
	Messages     = "Messages"
	Broadcasts   = "Broadcasts"
)

type Provider interface {
	Incr(name string)
	Decr(name string)
	Add(name string, delta int64)
}

type Updater struct {
	vars *expvar.Map
}

func NewUpdater() *Updater {
	u := &Updater{vars: expvar.NewMap("chat-service")}
	for _, name := range []string{Connections, LiveChannels, Messages, Broadcasts} {
		u.vars.Set(name, expvar.NewInt(name))
	}
	return u
}

// Handler serves the expvar dump; mounted at /debug/vars.
func Handler() http.Handler {
	return expvar.Handler()
}

func (u *Updater) Incr(name string) { u.Add(name, 1) }

func (u *Updater) Decr(name string) { u.Add(name, -1) }

func (u *Updater) Add(name string, delta int64) {
	if v, ok := u.vars.Get(name).(*expvar.Int); ok {
		v.Add(delta)
	}
}

// Nop discards updates; used in tests.
type Nop struct{}

func (Nop) Incr(string) {}

func (Nop) Decr(string) {}

func (Nop) Add(string, int64) {}
