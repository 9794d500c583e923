package service

import (
	"context"

	"github.com/firgia/soca/auth"
	"github.com/firgia/soca/errs"
	"github.com/firgia/soca/types"
)

var (
	errNoCallHistory = errs.NewNotFoundError("call history not found")
	errNoStatistic   = errs.NewNotFoundError("no calls found for the year")
)

// CallHistory lists the logged in user's own calls, newest first.
func (svc *Service) CallHistory(ctx context.Context, in types.ListCallHistory) (types.Page[types.CallHistoryItem], error) {
	var out types.Page[types.CallHistoryItem]

	uid, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return out, errs.Unauthenticated
	}

	if err := in.Validate(); err != nil {
		return out, err
	}

	in.SetUserID(uid)

	out, err := svc.History.CallHistory(ctx, in)
	if err != nil {
		return out, err
	}

	if len(out.Items) == 0 && in.After == nil {
		return out, errNoCallHistory
	}

	return out, nil
}

func (svc *Service) CallStatistic(ctx context.Context, in types.RetrieveCallStatistic) (types.CallStatistic, error) {
	var out types.CallStatistic

	uid, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return out, errs.Unauthenticated
	}

	if err := in.Validate(); err != nil {
		return out, err
	}

	from, to := in.Range()
	createdAts, err := svc.History.CallCreationTimes(ctx, uid, from, to)
	if err != nil {
		return out, err
	}

	if len(createdAts) == 0 {
		return out, errNoStatistic
	}

	return types.NewCallStatistic(createdAts, types.MonthLabels(in.Locale)), nil
}
