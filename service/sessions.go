package service

import (
	"context"
	"strconv"
	"time"

	"github.com/wyrmhole/backend/internal/identity"
	"github.com/wyrmhole/backend/internal/kv"
	"github.com/wyrmhole/backend/internal/observability"
)

const (
	// maxAccessAttempts locks a session against an address after this many
	// wrong access codes. The lock clears when the attempt counter's lease
	// runs out.
	maxAccessAttempts = 5
	attemptLease      = 10 * time.Second
)

// Sessions is the session registry: creation and naming, host rebinding,
// renames, cascading deletes, and the access-code join handshake. Every
// record it writes carries the default lease, so an untouched session
// evaporates on its own.
type Sessions struct {
	store   kv.Store
	tokens  *identity.Tokens
	log     *observability.Logger
	metrics *observability.Metrics
}

func NewSessions(store kv.Store, tokens *identity.Tokens, log *observability.Logger, metrics *observability.Metrics) *Sessions {
	return &Sessions{store: store, tokens: tokens, log: log, metrics: metrics}
}

// Session is the registry's projection of one session, returned to its
// host. Token is only set by operations that mint one.
type Session struct {
	Name       string
	ID         string
	AccessCode string
	Token      string
}

// requireSession turns a missing metadata hash into the canonical NotFound.
// Handlers call operations with ids from the URL, so this runs before any
// token check: a dead session answers 404 even to a bad token.
func requireSession(ctx context.Context, store kv.Store, sid string) error {
	exists, err := store.Exists(ctx, keySession(sid))
	if err != nil {
		return wrap(err)
	}
	if !exists {
		return notFound("session id not found")
	}
	return nil
}

// Create registers a fresh session for hostIP and mints its host token.
// One live session per source address; the claim record enforces it.
func (s *Sessions) Create(ctx context.Context, hostIP string) (Session, error) {
	claimed, err := s.store.Exists(ctx, keyHostClaim(hostIP))
	if err != nil {
		return Session{}, wrap(err)
	}
	if claimed {
		return Session{}, conflict("you have already created a session")
	}

	name, err := pickSessionName(ctx, s.store)
	if err != nil {
		return Session{}, wrap(err)
	}
	sid := identity.NewID()
	token, err := s.tokens.Mint(sid, identity.NewID(), true)
	if err != nil {
		return Session{}, wrap(err)
	}
	code := identity.NewAccessCode()

	if err := s.store.Set(ctx, keySession(name), sid, 0); err != nil {
		return Session{}, wrap(err)
	}
	fields := []string{"name", name, "code", identity.SHA256Hex(code)}
	if err := s.store.HSet(ctx, keySession(sid), fields, 0); err != nil {
		return Session{}, wrap(err)
	}
	if err := s.store.Set(ctx, keyHostClaim(hostIP), sid, 0); err != nil {
		return Session{}, wrap(err)
	}

	s.metrics.SessionsCreated.Inc()
	s.log.SessionCreated(sid, name)
	return Session{Name: name, ID: sid, AccessCode: code, Token: token}, nil
}

// Rebind rotates the access code of the caller's own session and returns
// the fresh code alongside the unchanged name and id. The host finds its
// session through the token, not the URL, so a lost tab can recover with
// nothing but the stored token.
func (s *Sessions) Rebind(ctx context.Context, authorization string) (Session, error) {
	raw, err := identity.TokenFromHeader(authorization)
	if err != nil {
		return Session{}, wrap(err)
	}
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return Session{}, wrap(err)
	}
	sid := claims.Audience

	if err := requireSession(ctx, s.store, sid); err != nil {
		return Session{}, err
	}
	if _, err := s.tokens.RequireHost(authorization, sid); err != nil {
		return Session{}, wrap(err)
	}

	name, err := s.store.HGet(ctx, keySession(sid), "name")
	if err != nil {
		return Session{}, wrap(err)
	}
	code := identity.NewAccessCode()
	fields := []string{"name", name, "code", identity.SHA256Hex(code)}
	if err := s.store.HSet(ctx, keySession(sid), fields, 0); err != nil {
		return Session{}, wrap(err)
	}
	if err := s.store.Set(ctx, keySession(name), sid, 0); err != nil {
		return Session{}, wrap(err)
	}

	return Session{Name: name, ID: sid, AccessCode: code}, nil
}

// IDForName resolves a public session name to its id. No authentication:
// the id alone grants nothing.
func (s *Sessions) IDForName(ctx context.Context, name string) (string, error) {
	exists, err := s.store.Exists(ctx, keySession(name))
	if err != nil {
		return "", wrap(err)
	}
	if !exists {
		return "", notFound("session name not found")
	}
	sid, err := s.store.Get(ctx, keySession(name))
	if err != nil {
		return "", wrap(err)
	}
	return sid, nil
}

// Metadata returns the session's public name.
func (s *Sessions) Metadata(ctx context.Context, sid string) (string, error) {
	if err := requireSession(ctx, s.store, sid); err != nil {
		return "", err
	}
	name, err := s.store.HGet(ctx, keySession(sid), "name")
	if err != nil {
		return "", wrap(err)
	}
	return name, nil
}

// Update renames the session and rotates its access code, invalidating
// every link handed out under the old pair. The old name pointer is
// dropped so the name returns to the pool.
func (s *Sessions) Update(ctx context.Context, sid, authorization, newName string) (Session, error) {
	if err := requireSession(ctx, s.store, sid); err != nil {
		return Session{}, err
	}
	if _, err := s.tokens.RequireHost(authorization, sid); err != nil {
		return Session{}, wrap(err)
	}

	oldName, err := s.store.HGet(ctx, keySession(sid), "name")
	if err != nil {
		return Session{}, wrap(err)
	}
	code := identity.NewAccessCode()
	fields := []string{"name", newName, "code", identity.SHA256Hex(code)}
	if err := s.store.HSet(ctx, keySession(sid), fields, 0); err != nil {
		return Session{}, wrap(err)
	}
	if err := s.store.Del(ctx, keySession(oldName)); err != nil {
		return Session{}, wrap(err)
	}
	if err := s.store.Set(ctx, keySession(newName), sid, 0); err != nil {
		return Session{}, wrap(err)
	}

	return Session{Name: newName, ID: sid, AccessCode: code}, nil
}

// Delete tears the session down: metadata hash, name pointer, the host's
// claim, and every advertised file record. Transfer state is left to its
// leases.
func (s *Sessions) Delete(ctx context.Context, sid, authorization, hostIP string) error {
	if err := requireSession(ctx, s.store, sid); err != nil {
		return err
	}
	if _, err := s.tokens.RequireHost(authorization, sid); err != nil {
		return wrap(err)
	}

	if err := s.store.Del(ctx, keyHostClaim(hostIP)); err != nil {
		return wrap(err)
	}
	name, err := s.store.HGet(ctx, keySession(sid), "name")
	if err != nil {
		return wrap(err)
	}
	if err := s.store.Del(ctx, keySession(sid), keySession(name)); err != nil {
		return wrap(err)
	}

	files, err := s.store.SMembers(ctx, keyFiles(sid))
	if err != nil {
		return wrap(err)
	}
	for _, file := range files {
		if err := s.store.Del(ctx, keyFile(sid, file)); err != nil {
			return wrap(err)
		}
	}
	if err := s.store.Del(ctx, keyFiles(sid)); err != nil {
		return wrap(err)
	}

	s.metrics.SessionsDeleted.Inc()
	s.log.SessionDeleted(sid)
	return nil
}

// Join trades a correct access-code hash for a guest token. The caller
// sends the hash itself in the Authorization header; after five misses
// from one address the session locks for that address until the attempt
// counter's lease expires.
func (s *Sessions) Join(ctx context.Context, sid, authorization, ip string) (string, error) {
	if err := requireSession(ctx, s.store, sid); err != nil {
		return "", err
	}

	attempts, err := s.store.Get(ctx, keyAccessAttempts(sid, ip))
	if err != nil {
		return "", wrap(err)
	}
	if attempts == strconv.Itoa(maxAccessAttempts) {
		s.metrics.JoinAttempts.WithLabelValues("locked").Inc()
		return "", tooMany("too many attempts")
	}

	if authorization == "" {
		return "", wrap(identity.ErrNoAuthHeader)
	}
	codeHash, err := s.store.HGet(ctx, keySession(sid), "code")
	if err != nil {
		return "", wrap(err)
	}
	if authorization != codeHash {
		if _, err := s.store.Incr(ctx, keyAccessAttempts(sid, ip), attemptLease); err != nil {
			return "", wrap(err)
		}
		s.metrics.JoinAttempts.WithLabelValues("denied").Inc()
		return "", unauthorized("invalid access code")
	}

	token, err := s.tokens.Mint(sid, identity.NewID(), false)
	if err != nil {
		return "", wrap(err)
	}
	s.metrics.JoinAttempts.WithLabelValues("success").Inc()
	s.log.SessionJoined(sid)
	return token, nil
}
