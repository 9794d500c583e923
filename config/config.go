package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v3"
)

type StoreMode string

const (
	StoreModeCockroach StoreMode = "cockroach"
	StoreModeMemory    StoreMode = "memory"
)

type Config struct {
	Port  uint
	Store StoreMode

	CockroachURL string
	RedisURL     string
	NATSURL      string
	NATSSubject  string

	JWTSecret string
	JWTIssuer string

	OneSignalURL              string
	OneSignalAppID            string
	OneSignalRESTAPIKey       string
	OneSignalVoIPAppID        string
	OneSignalVoIPRESTAPIKey   string
	OneSignalAndroidChannelID string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string

	RTCAppID       string
	RTCCertificate string
	RTCTokenTTL    time.Duration

	SideEffectTimeout time.Duration
	HTTPClientTimeout time.Duration
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg, err := Parse(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	return cfg, err
}

// Parse reads flags from args with SOCA_ prefixed environment variables
// as fallback.
func Parse(args []string) (Config, error) {
	var cfg Config
	var store string

	fs := flag.NewFlagSet("soca", flag.ContinueOnError)
	fs.UintVar(&cfg.Port, "port", 4000, "Port for the HTTP server")
	fs.StringVar(&store, "store", string(StoreModeCockroach), "Storage backend: cockroach or memory")

	fs.StringVar(&cfg.CockroachURL, "cockroach-url", "postgresql://root@127.0.0.1:26257/defaultdb?sslmode=disable", "URL for the CockroachDB database")
	fs.StringVar(&cfg.RedisURL, "redis-url", "redis://127.0.0.1:6379/0", "URL for the Redis server holding shared call records")
	fs.StringVar(&cfg.NATSURL, "nats-url", "", "NATS server URL for live call events; empty disables publishing")
	fs.StringVar(&cfg.NATSSubject, "nats-subject-prefix", "soca", "Subject prefix for live call events")

	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "HMAC secret used to verify bearer tokens")
	fs.StringVar(&cfg.JWTIssuer, "jwt-issuer", "", "Expected bearer token issuer")

	fs.StringVar(&cfg.OneSignalURL, "onesignal-url", "https://onesignal.com/api/v1/notifications", "OneSignal notifications endpoint")
	fs.StringVar(&cfg.OneSignalAppID, "onesignal-app-id", "", "OneSignal app id for standard pushes")
	fs.StringVar(&cfg.OneSignalRESTAPIKey, "onesignal-rest-api-key", "", "OneSignal REST API key for standard pushes")
	fs.StringVar(&cfg.OneSignalVoIPAppID, "onesignal-voip-app-id", "", "OneSignal app id for VoIP pushes")
	fs.StringVar(&cfg.OneSignalVoIPRESTAPIKey, "onesignal-voip-rest-api-key", "", "OneSignal REST API key for VoIP pushes")
	fs.StringVar(&cfg.OneSignalAndroidChannelID, "onesignal-android-channel-id", "", "Android notification channel for incoming calls")

	fs.StringVar(&cfg.VAPIDPublicKey, "vapid-public-key", "", "VAPID public key for web pushes")
	fs.StringVar(&cfg.VAPIDPrivateKey, "vapid-private-key", "", "VAPID private key for web pushes")
	fs.StringVar(&cfg.VAPIDSubscriber, "vapid-subscriber", "", "Contact email or URL sent with web pushes")

	fs.StringVar(&cfg.RTCAppID, "rtc-app-id", "", "RTC application id")
	fs.StringVar(&cfg.RTCCertificate, "rtc-certificate", "", "RTC application certificate")
	fs.DurationVar(&cfg.RTCTokenTTL, "rtc-token-ttl", 600*time.Second, "Lifetime of issued RTC tokens")

	fs.DurationVar(&cfg.SideEffectTimeout, "side-effect-timeout", 15*time.Second, "Timeout for pushes, availability updates and events after a transition")
	fs.DurationVar(&cfg.HTTPClientTimeout, "http-client-timeout", 10*time.Second, "Timeout for outgoing push gateway requests")

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("SOCA")); err != nil {
		return cfg, err
	}

	cfg.Store = StoreMode(store)
	switch cfg.Store {
	case StoreModeCockroach, StoreModeMemory:
	default:
		return cfg, fmt.Errorf("unknown store %q", store)
	}

	return cfg, nil
}
