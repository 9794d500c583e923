package service

import (
	"context"

	"github.com/firgia/soca/auth"
	"github.com/firgia/soca/errs"
	"github.com/firgia/soca/types"
)

func (svc *Service) RTCCredential(ctx context.Context, in types.RequestRTCCredential) (types.RTCCredential, error) {
	var out types.RTCCredential

	if _, ok := auth.UserIDFromContext(ctx); !ok {
		return out, errs.Unauthenticated
	}

	if err := in.Validate(); err != nil {
		return out, err
	}

	return svc.RTC.Issue(in.ChannelName, uint32(*in.UID), in.Role)
}
