// Package auth describes who is calling the API and what they may do.
package auth

import (
	"context"
	"slices"
	"strings"

	"github.com/go-faster/errors"
)

var (
	// ErrUnauthorized is returned when the caller has no valid identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the caller may not perform the action.
	ErrForbidden = errors.New("forbidden")
)

// PlanPlus is the subscription plan that grants membership pricing.
const PlanPlus = "plus"

// Identity is the authenticated caller as asserted by the identity provider.
type Identity struct {
	UserID string
	Email  string
	Name   string
	Plans  []string
}

// HasPlan reports whether the identity carries the named plan.
func (i Identity) HasPlan(plan string) bool {
	return slices.ContainsFunc(i.Plans, func(p string) bool {
		return strings.EqualFold(p, plan)
	})
}

// IsMember reports whether the caller gets member pricing.
func (i Identity) IsMember() bool {
	return i.HasPlan(PlanPlus)
}

// Role is the operator role of an identity.
type Role int

const (
	RoleBuyer Role = iota
	RoleMasterVendor
)

// Policy decides operator roles.
type Policy interface {
	Role(id Identity) Role
}

// EmailPolicy grants RoleMasterVendor to a fixed set of email addresses.
type EmailPolicy struct {
	masters map[string]struct{}
}

// NewEmailPolicy creates an EmailPolicy. Emails are compared case-insensitively.
func NewEmailPolicy(emails []string) *EmailPolicy {
	p := &EmailPolicy{masters: make(map[string]struct{}, len(emails))}
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			p.masters[e] = struct{}{}
		}
	}
	return p
}

// Role implements Policy.
func (p *EmailPolicy) Role(id Identity) Role {
	if _, ok := p.masters[strings.ToLower(strings.TrimSpace(id.Email))]; ok && id.Email != "" {
		return RoleMasterVendor
	}
	return RoleBuyer
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
