package types

import (
	"math"
	"strings"

	"github.com/firgia/soca/validator"
)

type RTCRole string

const (
	RTCRolePublisher RTCRole = "publisher"
	RTCRoleAudience  RTCRole = "audience"
)

type RequestRTCCredential struct {
	ChannelName string   `json:"channel_name"`
	UID         *float64 `json:"uid"`
	Role        RTCRole  `json:"role"`
}

func (in *RequestRTCCredential) Validate() error {
	v := validator.New()

	in.ChannelName = strings.TrimSpace(in.ChannelName)
	v.Check(in.ChannelName != "", "channel_name", "channel_name can not be empty")
	v.Check(len(in.ChannelName) <= 64, "channel_name", "channel_name cannot exceed 64 characters")

	switch in.Role {
	case "":
		v.AddError("role", "role can not be empty")
	case RTCRolePublisher, RTCRoleAudience:
	default:
		v.AddError("role", "the valid role is publisher or audience")
	}

	switch {
	case in.UID == nil:
		v.AddError("uid", "uid can not be empty")
	case *in.UID < 0 || *in.UID > math.MaxUint32 || *in.UID != math.Trunc(*in.UID):
		v.AddError("uid", "uid must be an unsigned 32-bit integer")
	}

	return v.AsError()
}

type RTCCredential struct {
	Token                       string `json:"token"`
	PrivilegeExpiredTimeSeconds int64  `json:"privilege_expired_time_seconds"`
	ChannelName                 string `json:"channel_name"`
	UID                         uint32 `json:"uid"`
}
