// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

// Package iam holds the narrow slice of the identity system the
// mutation core consumes: resolving role-tag names to role UUIDs so
// they can be stored on the written record. Policy evaluation itself
// happens elsewhere.
package iam

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Resolver maps role-tag names to role UUIDs for an owner.
type Resolver interface {
	ResolveRoles(ctx context.Context, owner uuid.UUID, names []string) ([]uuid.UUID, error)
}

// AccountLookup answers account existence checks.
type AccountLookup interface {
	Exists(ctx context.Context, owner uuid.UUID) (bool, error)
}

// StaticResolver resolves roles from a fixed per-owner table. Used for
// tests and single-tenant deployments without an identity service.
type StaticResolver struct {
	roles map[uuid.UUID]map[string]uuid.UUID
}

// NewStaticResolver creates an empty resolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{roles: make(map[uuid.UUID]map[string]uuid.UUID)}
}

// AddRole registers a role name for an owner.
func (r *StaticResolver) AddRole(owner uuid.UUID, name string, id uuid.UUID) {
	byName, ok := r.roles[owner]
	if !ok {
		byName = make(map[string]uuid.UUID)
		r.roles[owner] = byName
	}
	byName[name] = id
}

func (r *StaticResolver) ResolveRoles(ctx context.Context, owner uuid.UUID, names []string) ([]uuid.UUID, error) {
	if len(names) == 0 {
		return nil, nil
	}
	byName := r.roles[owner]
	out := make([]uuid.UUID, 0, len(names))
	for _, name := range names {
		id, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("role %q not found", name)
		}
		out = append(out, id)
	}
	return out, nil
}
