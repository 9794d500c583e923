package service

import (
	"github.com/firgia/soca/errs"
	"github.com/firgia/soca/types"
)

type operation string

const (
	opCreate         operation = "create"
	opAnswer         operation = "answer"
	opDecline        operation = "decline"
	opEnd            operation = "end"
	opUpdateSettings operation = "update_settings"
)

var (
	errCallNotFound     = errs.NewNotFoundError("call not found")
	errCallEnded        = errs.NewPermissionDeniedError("call is ended")
	errCallNotWaiting   = errs.NewPermissionDeniedError("call is no longer waiting")
	errCallNotOngoing   = errs.NewPermissionDeniedError("call is not ongoing")
	errNotTarget        = errs.NewPermissionDeniedError("you are not a target volunteer of this call")
	errNotParty         = errs.NewPermissionDeniedError("you are not a party of this call")
	errOnlyCallerCancel = errs.NewPermissionDeniedError("only the caller can cancel a waiting call")
	errOnlyBlindCreate  = errs.NewPermissionDeniedError("only blind users can create calls")
)

// authorize tells whether userID may apply op to the call in its
// current state.
func authorize(call types.Call, userID string, op operation) error {
	if call.State.Terminal() {
		return errCallEnded
	}

	switch op {
	case opAnswer, opDecline:
		if call.State != types.CallStateWaiting {
			return errCallNotWaiting
		}
		if !call.IsTarget(userID) {
			return errNotTarget
		}
	case opEnd:
		switch call.State {
		case types.CallStateWaiting:
			if call.Users.BlindID != userID {
				if call.IsTarget(userID) {
					return errOnlyCallerCancel
				}
				return errNotParty
			}
		case types.CallStateOngoing:
			if !call.IsParty(userID) {
				return errNotParty
			}
		}
	case opUpdateSettings:
		if call.State != types.CallStateOngoing {
			return errCallNotOngoing
		}
		if !call.IsParty(userID) {
			return errNotParty
		}
	}

	return nil
}

// endState is the state the shared and caller copies reach when a call
// in the given state is ended.
func endState(from types.CallState) types.CallState {
	if from == types.CallStateWaiting {
		return types.CallStateEndedWithCanceled
	}
	return types.CallStateEnded
}
