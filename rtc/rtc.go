// Package rtc issues short-lived credentials for joining a video
// channel. Tokens are HS256 JWTs signed with the app certificate.
package rtc

import (
	"errors"
	"fmt"
	"time"

	"github.com/firgia/soca/types"
	"github.com/golang-jwt/jwt/v5"
)

const DefaultTTL = 600 * time.Second

type Claims struct {
	jwt.RegisteredClaims
	AppID   string        `json:"app_id"`
	Channel string        `json:"channel"`
	UID     uint32        `json:"uid"`
	Role    types.RTCRole `json:"role"`
}

type Issuer struct {
	AppID       string
	Certificate []byte
	TTL         time.Duration

	now func() time.Time
}

func New(appID string, certificate []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{
		AppID:       appID,
		Certificate: certificate,
		TTL:         ttl,
		now:         time.Now,
	}
}

func (iss *Issuer) Issue(channel string, uid uint32, role types.RTCRole) (types.RTCCredential, error) {
	var out types.RTCCredential

	if len(iss.Certificate) == 0 {
		return out, errors.New("rtc certificate not configured")
	}

	now := iss.now().UTC()
	expiresAt := now.Add(iss.TTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    iss.AppID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		AppID:   iss.AppID,
		Channel: channel,
		UID:     uid,
		Role:    role,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(iss.Certificate)
	if err != nil {
		return out, fmt.Errorf("sign rtc token: %w", err)
	}

	out.Token = token
	out.PrivilegeExpiredTimeSeconds = expiresAt.Unix()
	out.ChannelName = channel
	out.UID = uid
	return out, nil
}

// Parse verifies a token issued by Issue.
func (iss *Issuer) Parse(token string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return iss.Certificate, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(iss.AppID),
		jwt.WithTimeFunc(iss.now),
	)
	if err != nil {
		return claims, fmt.Errorf("parse rtc token: %w", err)
	}
	return claims, nil
}
