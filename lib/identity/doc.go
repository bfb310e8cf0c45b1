// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity derives the git author identity and commit signing
// setup from vault items.
//
// Names and emails are located by ordered strategies (see
// [NameExtractors] and [EmailExtractors]); the first candidate that
// survives [SanitizeName] or [SanitizeEmail] wins. When the vault
// yields nothing usable the [Configurator] falls back to the local
// account so the identity is never left unset.
//
// Signing writes the public half of the signing key and an
// allowed_signers record under ~/.ssh/credboot/ and switches git to SSH
// signing for commits and tags.
package identity
