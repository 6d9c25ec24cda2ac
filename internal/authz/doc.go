// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package authz gates destructive operations.
//
// Two checks guard every recovery:
//   - Enforcer: Casbin RBAC decides whether the roles the policy assigns to
//     the operator allow the action on the resource (recovery/full,
//     recovery/point_in_time, recovery/selective, backup/create,
//     policy/update)
//   - TokenStore: the operator must present a single-use confirmation token
//     issued for that operation type and resource
//
// # Embedded Policies
//
// The package embeds default model and policy files for zero-configuration setup:
//   - model.conf: RBAC model with role hierarchy and keyMatch resources
//   - policy.csv: admin, operator and viewer roles
//
// A policy file on disk replaces the embedded policy and is reloaded every
// ReloadInterval.
//
// # Operators
//
// Operator identities hold roles only through grouping rules, either "g"
// lines in the policy file or EnforcerConfig.Operators ("alice=operator").
// Roles named by the caller can narrow an operator's roles but never add
// to them, and an identity that is itself a role or policy subject is
// always denied.
//
// # Thread Safety
//
// Enforcer and TokenStore are safe for concurrent use.
package authz
