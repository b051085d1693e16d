package relay

import (
	"sync"
	"time"
)

// PresenceInfo is a read-only snapshot of one presence entry.
type PresenceInfo struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsOnline bool   `json:"isOnline"`
}

type presenceEntry struct {
	conn        Conn
	displayName string
	online      bool
	offline     *time.Timer
	offlineGen  uint64
}

// Presence answers "is user X online, and through which connection". At most
// one authoritative connection per user: a later join supersedes the previous
// entry (last-write-wins). A disconnect arms a grace timer before the user is
// marked fully offline, so quick reconnects never flap presence.
type Presence struct {
	mu      sync.Mutex
	grace   time.Duration
	gen     uint64
	entries map[string]*presenceEntry

	// onOffline fires once per expired grace window, outside the lock.
	onOffline func(userID, displayName string)
}

func NewPresence(grace time.Duration, onOffline func(userID, displayName string)) *Presence {
	return &Presence{
		grace:     grace,
		entries:   make(map[string]*presenceEntry),
		onOffline: onOffline,
	}
}

// RegisterJoin inserts or overwrites the entry for userID and cancels any
// pending offline timer for it.
func (p *Presence) RegisterJoin(userID, displayName string, conn Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[userID]; ok && e.offline != nil {
		e.offline.Stop()
	}
	p.entries[userID] = &presenceEntry{
		conn:        conn,
		displayName: displayName,
		online:      true,
	}
}

// MarkDisconnected schedules offline removal for the user owning conn. If the
// connection is not the authoritative one for its user (it was superseded by
// a later join), nothing happens. Returns the user id whose removal was
// scheduled, or "".
func (p *Presence) MarkDisconnected(conn Conn) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	for userID, e := range p.entries {
		if e.conn != conn {
			continue
		}
		if e.offline != nil {
			e.offline.Stop()
		}
		uid, name := userID, e.displayName
		p.gen++
		gen := p.gen
		e.offlineGen = gen
		e.offline = time.AfterFunc(p.grace, func() {
			p.expire(uid, name, gen)
		})
		return userID
	}
	return ""
}

// expire removes the entry unless a rejoin replaced it in the meantime. The
// generation check rejects a stale timer that was blocked on the lock across
// a rejoin-and-disconnect cycle: only the entry's pending schedule may fire.
func (p *Presence) expire(userID, displayName string, gen uint64) {
	p.mu.Lock()
	e, ok := p.entries[userID]
	if !ok || e.offline == nil || e.offlineGen != gen {
		p.mu.Unlock()
		return
	}
	delete(p.entries, userID)
	p.mu.Unlock()

	if p.onOffline != nil {
		p.onOffline(userID, displayName)
	}
}

// SetStatus flips the online flag for an explicit update_status event.
// Reports whether the user had a presence entry.
func (p *Presence) SetStatus(userID string, online bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[userID]
	if !ok {
		return false
	}
	e.online = online
	return true
}

// ConnOf returns the authoritative connection for userID, or nil.
func (p *Presence) ConnOf(userID string) Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[userID]; ok {
		return e.conn
	}
	return nil
}

// IsOnline reports whether userID has a presence entry flagged online.
func (p *Presence) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[userID]
	return ok && e.online
}

// Online returns a snapshot of all present users.
func (p *Presence) Online() []PresenceInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := make([]PresenceInfo, 0, len(p.entries))
	for userID, e := range p.entries {
		res = append(res, PresenceInfo{
			UserID:   userID,
			UserName: e.displayName,
			IsOnline: e.online,
		})
	}
	return res
}
