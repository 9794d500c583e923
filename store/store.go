// Package store exposes every copy of a call through one repository.
// Durable copies live per user and the shared copy is keyed by call id;
// writes touching several copies are issued concurrently.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/firgia/soca/types"
	"golang.org/x/sync/errgroup"
)

// Durable copies never leave a terminal state: PutUserCall keeps an ended
// copy as is and UpdateUserCall ignores a state going back to non terminal.
type Durable interface {
	PutUserCall(ctx context.Context, userID string, call types.Call) error
	UserCall(ctx context.Context, userID, callID string) (types.Call, error)
	UpdateUserCall(ctx context.Context, userID, callID string, patch types.CallPatch) error
}

type Shared interface {
	CreateCall(ctx context.Context, call types.Call) error
	Call(ctx context.Context, callID string) (types.Call, error)
	UpdateCall(ctx context.Context, callID string, patch types.CallPatch) error
	CompareAndUpdateCall(ctx context.Context, callID string, expected types.CallState, patch types.CallPatch) (bool, error)
	RemoveCandidate(ctx context.Context, callID, volunteerID string, endedAt time.Time) (types.CandidateRemoval, error)
}

type ScopeKind int

const (
	ScopeRequester ScopeKind = iota
	ScopeResponder
	ScopeShared
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeRequester:
		return "requester"
	case ScopeResponder:
		return "responder"
	case ScopeShared:
		return "shared"
	}
	return fmt.Sprintf("ScopeKind(%d)", int(k))
}

// Scope addresses one copy of a call. OwnerID is the user owning a
// durable copy and is ignored for the shared one.
type Scope struct {
	Kind    ScopeKind
	OwnerID string
}

func Requester(userID string) Scope {
	return Scope{Kind: ScopeRequester, OwnerID: userID}
}

func Responder(userID string) Scope {
	return Scope{Kind: ScopeResponder, OwnerID: userID}
}

func SharedScope() Scope {
	return Scope{Kind: ScopeShared}
}

func (s Scope) String() string {
	if s.Kind == ScopeShared {
		return s.Kind.String()
	}
	return s.Kind.String() + ":" + s.OwnerID
}

// Role is the role stored in a durable copy of this scope.
func (s Scope) Role() types.CallRole {
	if s.Kind == ScopeResponder {
		return types.CallRoleAnswerer
	}
	return types.CallRoleCaller
}

type Calls struct {
	durable Durable
	shared  Shared
}

func NewCalls(durable Durable, shared Shared) *Calls {
	return &Calls{
		durable: durable,
		shared:  shared,
	}
}

func (c *Calls) Read(ctx context.Context, callID string, scope Scope) (types.Call, error) {
	if scope.Kind == ScopeShared {
		return c.shared.Call(ctx, callID)
	}
	return c.durable.UserCall(ctx, scope.OwnerID, callID)
}

// Write applies patch to every scope concurrently and returns the first
// error.
func (c *Calls) Write(ctx context.Context, callID string, patch types.CallPatch, scopes ...Scope) error {
	if patch.IsZero() || len(scopes) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, scope := range scopes {
		g.Go(func() error {
			if err := c.write(gctx, callID, patch, scope); err != nil {
				return fmt.Errorf("write %s copy of call %s: %w", scope, callID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Calls) write(ctx context.Context, callID string, patch types.CallPatch, scope Scope) error {
	if scope.Kind == ScopeShared {
		return c.shared.UpdateCall(ctx, callID, patch)
	}
	return c.durable.UpdateUserCall(ctx, scope.OwnerID, callID, patch)
}

// Put stores a full durable copy for the scope owner. The role of the
// copy follows the scope. An already ended copy is kept.
func (c *Calls) Put(ctx context.Context, scope Scope, call types.Call) error {
	if scope.Kind == ScopeShared {
		return fmt.Errorf("put call %s: shared copy is only created with CreateBoth", call.ID)
	}

	call.Role = scope.Role()
	if err := c.durable.PutUserCall(ctx, scope.OwnerID, call); err != nil {
		return fmt.Errorf("put %s copy of call %s: %w", scope, call.ID, err)
	}
	return nil
}

// CreateBoth writes the requester durable copy and the shared copy of a
// new call concurrently.
func (c *Calls) CreateBoth(ctx context.Context, call types.Call) error {
	call.Role = types.CallRoleCaller

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := c.durable.PutUserCall(gctx, call.Users.BlindID, call); err != nil {
			return fmt.Errorf("create requester copy of call %s: %w", call.ID, err)
		}
		return nil
	})
	g.Go(func() error {
		if err := c.shared.CreateCall(gctx, call); err != nil {
			return fmt.Errorf("create shared copy of call %s: %w", call.ID, err)
		}
		return nil
	})
	return g.Wait()
}

// CompareAndWrite patches the shared copy only while it is still in the
// expected state.
func (c *Calls) CompareAndWrite(ctx context.Context, callID string, expected types.CallState, patch types.CallPatch) (bool, error) {
	return c.shared.CompareAndUpdateCall(ctx, callID, expected, patch)
}

func (c *Calls) RemoveCandidate(ctx context.Context, callID, volunteerID string, endedAt time.Time) (types.CandidateRemoval, error) {
	return c.shared.RemoveCandidate(ctx, callID, volunteerID, endedAt)
}
