package store

import (
	"context"
	"testing"
	"time"

	"github.com/firgia/soca/errs"
	"github.com/firgia/soca/id"
	"github.com/firgia/soca/memstore"
	"github.com/firgia/soca/ptr"
	"github.com/firgia/soca/types"
)

func newTestCalls() (*Calls, *memstore.Durable, *memstore.Shared) {
	durable := memstore.NewDurable()
	shared := memstore.NewShared()
	return NewCalls(durable, shared), durable, shared
}

func genCall() types.Call {
	return types.Call{
		ID:                 id.Generate(),
		TargetVolunteerIDs: []string{"v1", "v2"},
		RTCChannelID:       id.Channel(),
		Users:              types.CallUsers{BlindID: "b1"},
		State:              types.CallStateWaiting,
		CreatedAt:          time.Now().UTC(),
	}
}

func TestCalls_CreateBoth(t *testing.T) {
	calls, _, _ := newTestCalls()
	ctx := context.Background()

	call := genCall()
	if err := calls.CreateBoth(ctx, call); err != nil {
		t.Fatal(err)
	}

	for _, scope := range []Scope{Requester("b1"), SharedScope()} {
		got, err := calls.Read(ctx, call.ID, scope)
		if err != nil {
			t.Fatalf("%s: %v", scope, err)
		}
		if got.Role != types.CallRoleCaller || got.State != types.CallStateWaiting {
			t.Errorf("%s: unexpected copy %+v", scope, got)
		}
	}

	_, err := calls.Read(ctx, call.ID, Responder("v1"))
	if !errs.IsNotFound(err) {
		t.Errorf("want no responder copy; got %v", err)
	}

	err = calls.CreateBoth(ctx, call)
	if !errs.Is(err, errs.KindAlreadyExists) {
		t.Errorf("want already exists from the shared copy; got %v", err)
	}
}

func TestCalls_Write(t *testing.T) {
	calls, _, _ := newTestCalls()
	ctx := context.Background()

	call := genCall()
	if err := calls.CreateBoth(ctx, call); err != nil {
		t.Fatal(err)
	}
	if err := calls.Put(ctx, Responder("v1"), call); err != nil {
		t.Fatal(err)
	}

	endedAt := time.Now().UTC()
	patch := types.CallPatch{
		State:   ptr.From(types.CallStateEnded),
		EndedAt: &endedAt,
	}
	err := calls.Write(ctx, call.ID, patch, Requester("b1"), Responder("v1"), SharedScope())
	if err != nil {
		t.Fatal(err)
	}

	for _, scope := range []Scope{Requester("b1"), Responder("v1"), SharedScope()} {
		got, err := calls.Read(ctx, call.ID, scope)
		if err != nil {
			t.Fatalf("%s: %v", scope, err)
		}
		if got.State != types.CallStateEnded || got.EndedAt == nil || !got.EndedAt.Equal(endedAt) {
			t.Errorf("%s: unexpected copy %+v", scope, got)
		}
	}

	responder, err := calls.Read(ctx, call.ID, Responder("v1"))
	if err != nil {
		t.Fatal(err)
	}
	if responder.Role != types.CallRoleAnswerer {
		t.Errorf("want responder copy role answerer; got %q", responder.Role)
	}
}

func TestCalls_Write_MissingCopy(t *testing.T) {
	calls, _, _ := newTestCalls()
	ctx := context.Background()

	call := genCall()
	if err := calls.CreateBoth(ctx, call); err != nil {
		t.Fatal(err)
	}

	err := calls.Write(ctx, call.ID, types.CallPatch{State: ptr.From(types.CallStateEnded)}, Requester("b1"), Responder("v9"))
	if !errs.IsNotFound(err) {
		t.Errorf("want not found from the missing copy; got %v", err)
	}
}

func TestCalls_Put_Shared(t *testing.T) {
	calls, _, _ := newTestCalls()

	err := calls.Put(context.Background(), SharedScope(), genCall())
	if err == nil {
		t.Errorf("want error putting a shared copy; got %v", err)
	}
}

func TestCalls_CompareAndWrite(t *testing.T) {
	calls, _, _ := newTestCalls()
	ctx := context.Background()

	call := genCall()
	if err := calls.CreateBoth(ctx, call); err != nil {
		t.Fatal(err)
	}

	patch := types.CallPatch{State: ptr.From(types.CallStateOngoing), VolunteerID: ptr.From("v1")}
	ok, err := calls.CompareAndWrite(ctx, call.ID, types.CallStateWaiting, patch)
	if err != nil || !ok {
		t.Fatalf("want first write applied; got %v, %v", ok, err)
	}

	ok, err = calls.CompareAndWrite(ctx, call.ID, types.CallStateWaiting, patch)
	if err != nil || ok {
		t.Fatalf("want second write rejected; got %v, %v", ok, err)
	}

	got, err := calls.Read(ctx, call.ID, Requester("b1"))
	if err != nil {
		t.Fatal(err)
	}
	if got.State != types.CallStateWaiting {
		t.Errorf("compare and write only touches the shared copy; got %q", got.State)
	}
}

func TestScope_String(t *testing.T) {
	tt := []struct {
		scope Scope
		want  string
	}{
		{scope: Requester("b1"), want: "requester:b1"},
		{scope: Responder("v1"), want: "responder:v1"},
		{scope: SharedScope(), want: "shared"},
	}
	for _, tc := range tt {
		if got := tc.scope.String(); got != tc.want {
			t.Errorf("want %q; got %q", tc.want, got)
		}
	}
}

func TestCalls_EndedCopyKept(t *testing.T) {
	calls, _, _ := newTestCalls()
	ctx := context.Background()

	call := genCall()
	call.Users.VolunteerID = ptr.From("v1")

	ended := call
	ended.State = types.CallStateEnded
	ended.EndedAt = ptr.From(call.CreatedAt.Add(time.Minute))
	if err := calls.Put(ctx, Responder("v1"), ended); err != nil {
		t.Fatal(err)
	}

	live := call
	live.State = types.CallStateOngoing
	if err := calls.Put(ctx, Responder("v1"), live); err != nil {
		t.Fatal(err)
	}

	err := calls.Write(ctx, call.ID, types.CallPatch{State: ptr.From(types.CallStateOngoing)}, Responder("v1"))
	if err != nil {
		t.Fatal(err)
	}

	got, err := calls.Read(ctx, call.ID, Responder("v1"))
	if err != nil {
		t.Fatal(err)
	}
	if got.State != types.CallStateEnded || got.EndedAt == nil {
		t.Errorf("want the ended copy kept; got %+v", got)
	}
	if got.Role != types.CallRoleAnswerer {
		t.Errorf("want role %q; got %q", types.CallRoleAnswerer, got.Role)
	}
}
