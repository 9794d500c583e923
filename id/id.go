package id

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/xid"
)

// channelAlphabet stays inside the character set RTC providers accept
// for channel names.
const (
	channelAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	channelSize     = 32
)

func Generate() string {
	return xid.New().String()
}

func Valid(s string) bool {
	id, err := xid.FromString(s)
	if err != nil {
		return false
	}
	return !id.IsNil() && !id.IsZero()
}

func Channel() string {
	return gonanoid.MustGenerate(channelAlphabet, channelSize)
}
