package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"sneaky-linq/internal/domain"
)

// MemoryRegistry implementa Registry en memoria. Un unico mutex serializa
// sesiones e indices de alias, por lo que cada operacion es atomica.
type MemoryRegistry struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time

	sessions       map[string]domain.Session
	groups         map[string]map[string]struct{}
	aliasBySession map[string]string
	sessionByAlias map[string]string
}

func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &MemoryRegistry{
		ttl:            ttl,
		now:            func() time.Time { return time.Now().UTC() },
		sessions:       make(map[string]domain.Session),
		groups:         make(map[string]map[string]struct{}),
		aliasBySession: make(map[string]string),
		sessionByAlias: make(map[string]string),
	}
}

func (r *MemoryRegistry) Ping(_ context.Context) error {
	return nil
}

func (r *MemoryRegistry) CreateOrRefresh(_ context.Context, id, address string) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	session, ok := r.liveLocked(id, now)
	if !ok {
		session = domain.Session{ID: id, CreatedAt: now}
	}
	session.Channel = address
	session.ExpiresAt = now.Add(r.ttl)
	r.sessions[id] = session
	return r.viewLocked(session), nil
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.liveLocked(id, r.now())
	if !ok {
		return domain.Session{}, ErrSessionNotFound
	}
	return r.viewLocked(session), nil
}

func (r *MemoryRegistry) JoinGroup(_ context.Context, id, group string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.liveLocked(id, r.now()); !ok {
		return ErrSessionNotFound
	}
	set, ok := r.groups[id]
	if !ok {
		set = make(map[string]struct{})
		r.groups[id] = set
	}
	set[group] = struct{}{}
	return nil
}

func (r *MemoryRegistry) TouchTTL(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	session, ok := r.liveLocked(id, now)
	if !ok {
		return ErrSessionNotFound
	}
	session.ExpiresAt = now.Add(r.ttl)
	r.sessions[id] = session
	return nil
}

func (r *MemoryRegistry) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
	return nil
}

func (r *MemoryRegistry) DeleteIfAddress(_ context.Context, id, address string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		r.releaseLocked(id)
		return false, nil
	}
	if session.Channel != address {
		return false, nil
	}
	r.removeLocked(id)
	return true, nil
}

func (r *MemoryRegistry) Claim(_ context.Context, id, alias string, mode ClaimMode) (ClaimOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	session, ok := r.liveLocked(id, now)
	if !ok {
		return ClaimSessionMissing, nil
	}
	current := r.aliasBySession[id]
	if current == alias {
		return ClaimAlreadyYours, nil
	}
	if owner, taken := r.sessionByAlias[alias]; taken && owner != id {
		if _, live := r.liveLocked(owner, now); live {
			return ClaimTaken, nil
		}
	}
	if mode == ClaimIfUnaliased && current != "" {
		return ClaimAlreadyPaired, nil
	}
	if current != "" {
		delete(r.sessionByAlias, current)
	}
	r.aliasBySession[id] = alias
	r.sessionByAlias[alias] = id
	session.ExpiresAt = now.Add(r.ttl)
	r.sessions[id] = session
	return ClaimAccepted, nil
}

func (r *MemoryRegistry) Release(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(id)
	return nil
}

func (r *MemoryRegistry) AliasOf(_ context.Context, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.liveLocked(id, r.now()); !ok {
		return "", nil
	}
	return r.aliasBySession[id], nil
}

func (r *MemoryRegistry) SessionOf(_ context.Context, alias string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.sessionByAlias[alias]
	if !ok {
		return "", nil
	}
	if _, live := r.liveLocked(owner, r.now()); !live {
		return "", nil
	}
	return owner, nil
}

// Sweep elimina las sesiones vencidas en now y devuelve cuantas borro.
func (r *MemoryRegistry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, session := range r.sessions {
		if session.Expired(now) {
			r.removeLocked(id)
			removed++
		}
	}
	return removed
}

// RunSweeper ejecuta Sweep cada interval hasta que ctx se cancele.
func (r *MemoryRegistry) RunSweeper(ctx context.Context, interval time.Duration, onSweep func(removed int)) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed := r.Sweep(r.now())
			if onSweep != nil && removed > 0 {
				onSweep(removed)
			}
		}
	}
}

// liveLocked devuelve la sesion si existe y no vencio; las vencidas se eliminan.
func (r *MemoryRegistry) liveLocked(id string, now time.Time) (domain.Session, bool) {
	session, ok := r.sessions[id]
	if !ok {
		r.releaseLocked(id)
		return domain.Session{}, false
	}
	if session.Expired(now) {
		r.removeLocked(id)
		return domain.Session{}, false
	}
	return session, true
}

func (r *MemoryRegistry) removeLocked(id string) {
	delete(r.sessions, id)
	delete(r.groups, id)
	r.releaseLocked(id)
}

func (r *MemoryRegistry) releaseLocked(id string) {
	alias, ok := r.aliasBySession[id]
	if !ok {
		return
	}
	delete(r.aliasBySession, id)
	if r.sessionByAlias[alias] == id {
		delete(r.sessionByAlias, alias)
	}
}

func (r *MemoryRegistry) viewLocked(session domain.Session) domain.Session {
	session.Alias = r.aliasBySession[session.ID]
	session.Groups = make([]string, 0, len(r.groups[session.ID]))
	for group := range r.groups[session.ID] {
		session.Groups = append(session.Groups, group)
	}
	sort.Strings(session.Groups)
	return session
}
