// Package session broadcasts per-user sign-in and entitlement state.
package session

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement"
)

// State is what a signed-in (or signed-out) client renders from.
type State struct {
	UserID               string               `json:"user_id"`
	Authenticated        bool                 `json:"authenticated"`
	Profile              *entitlement.Profile `json:"profile,omitempty"`
	HasActiveEntitlement bool                 `json:"has_active_entitlement"`
	At                   time.Time            `json:"at"`
}

func Authenticated(p entitlement.Profile, now time.Time) State {
	p = p.Clone()
	return State{
		UserID:               p.ID,
		Authenticated:        true,
		Profile:              &p,
		HasActiveEntitlement: p.HasActiveEntitlement(now),
		At:                   now,
	}
}

func SignedOut(userID string, now time.Time) State {
	return State{UserID: userID, At: now}
}

type Publisher interface {
	Publish(ctx context.Context, s State) error
}

// DefaultRetention is how many users' latest states a Presenter remembers.
const DefaultRetention = 10000

// Presenter fans states out to local subscribers. Each subscriber holds at most
// one pending state; a newer one replaces it. The latest state per user is kept
// for new subscribers until the user's last subscriber leaves or the retention
// limit evicts it.
type Presenter struct {
	mu      sync.Mutex
	subs    map[string]map[uint64]chan State
	current map[string]*list.Element
	recent  *list.List
	limit   int
	nextID  uint64
}

type Option func(*Presenter)

// WithRetention caps the remembered states at n users, least recently
// published first out. n <= 0 keeps every state.
func WithRetention(n int) Option {
	return func(p *Presenter) { p.limit = n }
}

func NewPresenter(opts ...Option) *Presenter {
	p := &Presenter{
		subs:    make(map[string]map[uint64]chan State),
		current: make(map[string]*list.Element),
		recent:  list.New(),
		limit:   DefaultRetention,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Presenter) Publish(_ context.Context, s State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.remember(s)
	for _, ch := range p.subs[s.UserID] {
		offer(ch, s)
	}
	return nil
}

// Subscribe returns a channel of userID's states, primed with the current one
// if known. cancel closes the channel.
func (p *Presenter) Subscribe(userID string) (<-chan State, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++

	ch := make(chan State, 1)
	if e, ok := p.current[userID]; ok {
		ch <- e.Value.(State)
	}
	if p.subs[userID] == nil {
		p.subs[userID] = make(map[uint64]chan State)
	}
	p.subs[userID][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs[userID], id)
			if len(p.subs[userID]) == 0 {
				delete(p.subs, userID)
				p.forget(userID)
			}
			close(ch)
		})
	}
	return ch, cancel
}

func (p *Presenter) Current(userID string) (State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.current[userID]
	if !ok {
		return State{}, false
	}
	return e.Value.(State), true
}

// Retained returns the number of users whose latest state is remembered.
func (p *Presenter) Retained() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.current)
}

func (p *Presenter) remember(s State) {
	if e, ok := p.current[s.UserID]; ok {
		e.Value = s
		p.recent.MoveToFront(e)
		return
	}
	p.current[s.UserID] = p.recent.PushFront(s)
	for p.limit > 0 && p.recent.Len() > p.limit {
		p.forget(p.recent.Back().Value.(State).UserID)
	}
}

func (p *Presenter) forget(userID string) {
	if e, ok := p.current[userID]; ok {
		p.recent.Remove(e)
		delete(p.current, userID)
	}
}

// Subscribers returns the number of open subscriptions for userID.
func (p *Presenter) Subscribers(userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs[userID])
}

func offer(ch chan State, s State) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
