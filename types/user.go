package types

import (
	"encoding/json"
	"time"
)

type UserType string

const (
	UserTypeBlind     UserType = "blind"
	UserTypeVolunteer UserType = "volunteer"
)

type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformWeb     Platform = "web"
)

// User is the public summary of an account as shown to the other party
// of a call.
type User struct {
	ID          string   `json:"id" db:"id" msgpack:"id"`
	Name        *string  `json:"name" db:"name" msgpack:"name"`
	AvatarURL   *string  `json:"avatar_url" db:"avatar_url" msgpack:"avatar_url"`
	Type        UserType `json:"type" db:"type" msgpack:"type"`
	Gender      *string  `json:"gender" db:"gender" msgpack:"gender"`
	DateOfBirth *string  `json:"date_of_birth" db:"date_of_birth" msgpack:"date_of_birth"`
}

// Device holds the push handles of the device a user last signed in
// with.
type Device struct {
	Platform     *Platform            `json:"platform" db:"device_platform"`
	PlayerID     *string              `json:"player_id" db:"device_player_id"`
	VoIPPlayerID *string              `json:"voip_player_id" db:"device_voip_player_id"`
	WebPush      *WebPushSubscription `json:"web_push" db:"device_web_push"`
}

type WebPushSubscription struct {
	Endpoint string `json:"endpoint"`
	Auth     string `json:"auth"`
	P256dh   string `json:"p256dh"`
}

// Handle is the opaque recipient handle of a web push subscription.
func (s WebPushSubscription) Handle() string {
	b, _ := json.Marshal(s)
	return string(b)
}

func ParseWebPushHandle(handle string) (WebPushSubscription, error) {
	var s WebPushSubscription
	err := json.Unmarshal([]byte(handle), &s)
	return s, err
}

type Profile struct {
	User
	Device
	Languages       []string  `json:"languages" db:"languages"`
	Disabled        bool      `json:"disabled" db:"disabled"`
	CanReceiveCalls bool      `json:"can_receive_calls" db:"can_receive_calls"`
	TotalCalls      int       `json:"total_calls" db:"total_calls"`
	CallYears       []string  `json:"call_years" db:"call_years"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

type ListAvailableVolunteers struct {
	Languages     []string
	ExcludeUserID string
}

// AvailabilityResult is the outcome of flipping the availability flag
// of a single user inside a batch.
type AvailabilityResult struct {
	UserID string
	Err    error
}
