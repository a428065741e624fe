// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store holds storage contracts shared by the domain packages.
package store

import (
	"context"
	"errors"
)

// ErrUnavailable marks a storage failure that is not a "no rows" answer:
// the database is unreachable, read-only, shutting down, or timed out.
// Callers must surface it as a service-unavailable condition.
var ErrUnavailable = errors.New("storage unavailable")

// TxManager runs fn inside a single database transaction.
// The transaction travels in the context passed to fn; repositories called
// with that context join it. Nested calls join the outer transaction.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxFunc adapts a plain function to TxManager.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// WithinTx calls f.
func (f TxFunc) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

// NoTx runs fn directly. Used by tests and in-memory stores.
var NoTx TxManager = TxFunc(func(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
})
