package types

type PushKind string

const (
	PushKindIncomingVideoCall PushKind = "incoming_video_call"
	PushKindMissedVideoCall   PushKind = "missed_video_call"
)

// PushCaller is the caller summary embedded in call pushes. Field names
// follow what the mobile apps decode.
type PushCaller struct {
	UID         string  `json:"uid"`
	Name        *string `json:"name"`
	Avatar      *string `json:"avatar"`
	Type        string  `json:"type"`
	Gender      *string `json:"gender"`
	DateOfBirth *string `json:"date_of_birth"`
}

func NewPushCaller(u User) PushCaller {
	return PushCaller{
		UID:         u.ID,
		Name:        u.Name,
		Avatar:      u.AvatarURL,
		Type:        string(u.Type),
		Gender:      u.Gender,
		DateOfBirth: u.DateOfBirth,
	}
}

type PushPayload struct {
	Type       PushKind   `json:"type"`
	UUID       string     `json:"uuid"`
	UserCaller PushCaller `json:"user_caller"`
}

// DeliveryResult is the per-handle outcome reported by a push gateway.
type DeliveryResult struct {
	Handle string
	Err    error
}
