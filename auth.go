package tally

import (
	"context"
	"sync"
)

// Role is a protocol-wide capability held by an account.
type Role string

const (
	// RoleFeeManager may edit the fee schedule.
	RoleFeeManager Role = "fee_manager"
	// RoleFeeWithdrawer may withdraw accumulated fees.
	RoleFeeWithdrawer Role = "fee_withdrawer"
	// RoleRenewer may trigger renewals and lifecycle changes for any
	// subscription.
	RoleRenewer Role = "renewer"
)

// Authorizer answers organization and role questions. It is injected by
// the host; Tally never stores organizations itself.
type Authorizer interface {
	OrganizationExists(ctx context.Context, orgID string) (bool, error)
	IsOwner(ctx context.Context, orgID, account string) (bool, error)
	IsAdmin(ctx context.Context, orgID, account string) (bool, error)
	HasRole(ctx context.Context, role Role, account string) (bool, error)
}

// Treasury moves funds between subscribers, escrow and recipients.
type Treasury interface {
	// Receive collects amount of asset from payer. Any error is a payment
	// failure.
	Receive(ctx context.Context, payer, asset string, amount int64) error
	// Release pays amount of asset out of escrow to recipient.
	Release(ctx context.Context, asset, recipient string, amount int64) error
}

type nopTreasury struct{}

func (nopTreasury) Receive(context.Context, string, string, int64) error { return nil }
func (nopTreasury) Release(context.Context, string, string, int64) error { return nil }

// ──────────────────────────────────────────────────
// Caller identity
// ──────────────────────────────────────────────────

type callerKey struct{}

type systemKey struct{}

// WithCaller returns a context carrying the acting account.
func WithCaller(ctx context.Context, account string) context.Context {
	return context.WithValue(ctx, callerKey{}, account)
}

// CallerFrom returns the acting account, or "" when none is set.
func CallerFrom(ctx context.Context) string {
	if v, ok := ctx.Value(callerKey{}).(string); ok {
		return v
	}
	return ""
}

// withSystem marks ctx as the engine's own background work, which passes
// every authorization check.
func withSystem(ctx context.Context) context.Context {
	return context.WithValue(ctx, systemKey{}, true)
}

func isSystem(ctx context.Context) bool {
	v, _ := ctx.Value(systemKey{}).(bool) //nolint:errcheck // type assertion
	return v
}

// ──────────────────────────────────────────────────
// Static authorizer
// ──────────────────────────────────────────────────

// StaticAuthorizer is an in-memory Authorizer for embedding and tests.
type StaticAuthorizer struct {
	mu     sync.RWMutex
	owners map[string]string
	admins map[string]map[string]bool
	roles  map[Role]map[string]bool
}

// NewStaticAuthorizer returns an empty StaticAuthorizer.
func NewStaticAuthorizer() *StaticAuthorizer {
	return &StaticAuthorizer{
		owners: make(map[string]string),
		admins: make(map[string]map[string]bool),
		roles:  make(map[Role]map[string]bool),
	}
}

// AddOrganization registers orgID with its owner and optional admins.
func (a *StaticAuthorizer) AddOrganization(orgID, owner string, admins ...string) *StaticAuthorizer {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.owners[orgID] = owner
	if a.admins[orgID] == nil {
		a.admins[orgID] = make(map[string]bool)
	}
	for _, adm := range admins {
		a.admins[orgID][adm] = true
	}
	return a
}

// Grant gives role to account.
func (a *StaticAuthorizer) Grant(role Role, account string) *StaticAuthorizer {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.roles[role] == nil {
		a.roles[role] = make(map[string]bool)
	}
	a.roles[role][account] = true
	return a
}

func (a *StaticAuthorizer) OrganizationExists(_ context.Context, orgID string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.owners[orgID]
	return ok, nil
}

func (a *StaticAuthorizer) IsOwner(_ context.Context, orgID, account string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	owner, ok := a.owners[orgID]
	return ok && owner == account, nil
}

// IsAdmin treats the owner as an admin.
func (a *StaticAuthorizer) IsAdmin(_ context.Context, orgID, account string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if owner, ok := a.owners[orgID]; ok && owner == account {
		return true, nil
	}
	return a.admins[orgID][account], nil
}

func (a *StaticAuthorizer) HasRole(_ context.Context, role Role, account string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.roles[role][account], nil
}

// ──────────────────────────────────────────────────
// Checks
// ──────────────────────────────────────────────────

func caller(ctx context.Context) (string, error) {
	c := CallerFrom(ctx)
	if c == "" && !isSystem(ctx) {
		return "", ErrNoCaller
	}
	return c, nil
}

func (e *Engine) requireOrg(ctx context.Context, orgID string) error {
	if orgID == "" {
		return ErrOrganizationNotFound
	}
	ok, err := e.auth.OrganizationExists(ctx, orgID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrOrganizationNotFound
	}
	return nil
}

// requireAdmin passes for owners, admins and system work.
func (e *Engine) requireAdmin(ctx context.Context, orgID string) error {
	if isSystem(ctx) {
		return nil
	}
	c, err := caller(ctx)
	if err != nil {
		return err
	}
	ok, err := e.isAdmin(ctx, orgID, c)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotOrgAdmin
	}
	return nil
}

func (e *Engine) isAdmin(ctx context.Context, orgID, account string) (bool, error) {
	if ok, err := e.auth.IsOwner(ctx, orgID, account); err != nil || ok {
		return ok, err
	}
	return e.auth.IsAdmin(ctx, orgID, account)
}

func (e *Engine) requireRole(ctx context.Context, role Role) error {
	if isSystem(ctx) {
		return nil
	}
	c, err := caller(ctx)
	if err != nil {
		return err
	}
	ok, err := e.auth.HasRole(ctx, role, c)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMissingRole
	}
	return nil
}

// requireSubscriberOrAdmin passes for the subscriber, an org admin, a
// RoleRenewer holder when allowRenewer is set, and system work.
func (e *Engine) requireSubscriberOrAdmin(ctx context.Context, orgID, subscriber string, allowRenewer bool) error {
	if isSystem(ctx) {
		return nil
	}
	c, err := caller(ctx)
	if err != nil {
		return err
	}
	if c == subscriber {
		return nil
	}
	if ok, err := e.isAdmin(ctx, orgID, c); err != nil || ok {
		return err
	}
	if allowRenewer {
		if ok, err := e.auth.HasRole(ctx, RoleRenewer, c); err != nil || ok {
			return err
		}
	}
	return ErrNotSubscriber
}
