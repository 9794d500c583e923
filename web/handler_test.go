package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/firgia/soca/auth"
	"github.com/firgia/soca/availability"
	"github.com/firgia/soca/errs"
	"github.com/firgia/soca/id"
	"github.com/firgia/soca/matcher"
	"github.com/firgia/soca/memstore"
	"github.com/firgia/soca/ptr"
	"github.com/firgia/soca/rtc"
	"github.com/firgia/soca/service"
	"github.com/firgia/soca/store"
	"github.com/firgia/soca/types"
)

type nopNotifier struct{}

func (nopNotifier) NotifyIncoming(context.Context, []types.Profile, types.User, string) error {
	return nil
}

func (nopNotifier) NotifyMissed(context.Context, []string, types.User, string) error {
	return nil
}

type testServer struct {
	srv      *httptest.Server
	verifier *auth.Verifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	durable := memstore.NewDurable()

	for _, p := range []types.Profile{
		{User: types.User{ID: "b1", Type: types.UserTypeBlind}, Languages: []string{"en"}},
		{User: types.User{ID: "v1", Type: types.UserTypeVolunteer}, Languages: []string{"en"}, CanReceiveCalls: true},
		{User: types.User{ID: "v2", Type: types.UserTypeVolunteer}, Languages: []string{"en"}, CanReceiveCalls: true},
	} {
		if err := durable.UpsertProfile(context.Background(), p); err != nil {
			t.Fatal(err)
		}
	}

	svc := service.New(service.Config{
		Calls:        store.NewCalls(durable, memstore.NewShared()),
		Profiles:     durable,
		History:      durable,
		Matcher:      matcher.New(durable),
		Notifier:     nopNotifier{},
		Availability: availability.New(durable, logger),
		RTC:          rtc.New("app", []byte("certificate"), 0),
		Logger:       logger,
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range svc.Errs() {
		}
	}()

	verifier := &auth.Verifier{Secret: []byte("secret")}
	srv := httptest.NewServer(&Handler{
		Service:     svc,
		Verifier:    verifier,
		ErrorLogger: logger,
	})
	t.Cleanup(func() {
		srv.Close()
		_ = svc.Close()
		<-done
	})

	return &testServer{srv: srv, verifier: verifier}
}

func (ts *testServer) do(t *testing.T, method, path, userID, body string, out any) int {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, ts.srv.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}

	if userID != "" {
		token, err := ts.verifier.Sign(userID, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}

	return resp.StatusCode
}

func TestHandler_CallFlow(t *testing.T) {
	ts := newTestServer(t)

	var call types.Call
	if code := ts.do(t, "POST", "/api/calls", "b1", "", &call); code != http.StatusCreated {
		t.Fatalf("create: want 201; got %d", code)
	}
	if call.State != types.CallStateWaiting || len(call.TargetVolunteerIDs) != 2 {
		t.Fatalf("unexpected call %+v", call)
	}

	var answered types.Call
	if code := ts.do(t, "POST", "/api/calls/"+call.ID+"/answer", "v1", `{"blind_id":"b1"}`, &answered); code != http.StatusOK {
		t.Fatalf("answer: want 200; got %d", code)
	}
	if answered.State != types.CallStateOngoing || !answered.IsVolunteer("v1") {
		t.Errorf("unexpected answered call %+v", answered)
	}

	var body errorBody
	if code := ts.do(t, "POST", "/api/calls/"+call.ID+"/answer", "v2", `{"blind_id":"b1"}`, &body); code != http.StatusForbidden {
		t.Errorf("second answer: want 403; got %d", code)
	}
	if body.Error.Kind != errs.KindPermissionDenied {
		t.Errorf("unexpected error body %+v", body)
	}

	var updated types.Updated[types.CallSettingsUpdate]
	if code := ts.do(t, "PATCH", "/api/calls/"+call.ID+"/settings", "b1", `{"enable_flip":true}`, &updated); code != http.StatusOK {
		t.Fatalf("settings: want 200; got %d", code)
	}
	if updated.DataUpdated == nil || !ptr.Or(updated.DataUpdated.EnableFlip, false) {
		t.Errorf("unexpected settings update %+v", updated)
	}

	var ended types.Call
	if code := ts.do(t, "POST", "/api/calls/"+call.ID+"/end", "v1", "", &ended); code != http.StatusOK {
		t.Fatalf("end: want 200; got %d", code)
	}
	if ended.State != types.CallStateEnded || ended.Role != types.CallRoleAnswerer {
		t.Errorf("unexpected ended call %+v", ended)
	}

	var own types.Call
	if code := ts.do(t, "GET", "/api/calls/"+call.ID, "b1", "", &own); code != http.StatusOK {
		t.Fatalf("get: want 200; got %d", code)
	}
	if own.State != types.CallStateEnded || !own.Settings.EnableFlip {
		t.Errorf("unexpected own copy %+v", own)
	}

	var history types.Page[types.CallHistoryItem]
	if code := ts.do(t, "GET", "/api/call_history?first=10", "v1", "", &history); code != http.StatusOK {
		t.Fatalf("history: want 200; got %d", code)
	}
	if len(history.Items) != 1 || history.Items[0].Role != types.CallRoleAnswerer {
		t.Errorf("unexpected history %+v", history)
	}

	var stat types.CallStatistic
	path := "/api/call_statistic?locale=id&year=" + strconv.Itoa(time.Now().UTC().Year())
	if code := ts.do(t, "GET", path, "b1", "", &stat); code != http.StatusOK {
		t.Fatalf("statistic: want 200; got %d", code)
	}
	if stat.Total != 1 {
		t.Errorf("unexpected statistic %+v", stat)
	}
}

func TestHandler_Errors(t *testing.T) {
	ts := newTestServer(t)

	tt := []struct {
		name   string
		method string
		path   string
		userID string
		body   string
		code   int
		kind   errs.Kind
		field  string
	}{
		{"unauthenticated", "POST", "/api/calls", "", "", http.StatusUnauthorized, errs.KindUnauthenticated, ""},
		{"unauthenticated_before_body", "POST", "/api/calls/x/answer", "", "{", http.StatusUnauthorized, errs.KindUnauthenticated, ""},
		{"malformed_body", "POST", "/api/calls/x/answer", "v1", "{", http.StatusUnprocessableEntity, errs.KindInvalidArgument, "body"},
		{"invalid_call_id", "POST", "/api/calls/x/answer", "v1", `{"blind_id":"b1"}`, http.StatusUnprocessableEntity, errs.KindInvalidArgument, "call_id"},
		{"unknown_call", "GET", "/api/calls/" + id.Generate(), "b1", "", http.StatusNotFound, errs.KindNotFound, ""},
		{"bad_year", "GET", "/api/call_statistic?year=abc", "b1", "", http.StatusUnprocessableEntity, errs.KindInvalidArgument, "year"},
		{"bad_rtc_role", "POST", "/api/rtc_credentials", "b1", `{"channel_name":"c","uid":1,"role":"host"}`, http.StatusUnprocessableEntity, errs.KindInvalidArgument, "role"},
		{"volunteer_creating", "POST", "/api/calls", "v1", "", http.StatusForbidden, errs.KindPermissionDenied, ""},
		{"unknown_route", "GET", "/nope", "", "", http.StatusNotFound, errs.KindNotFound, ""},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			var body errorBody
			code := ts.do(t, tc.method, tc.path, tc.userID, tc.body, &body)
			if code != tc.code {
				t.Errorf("want status %d; got %d", tc.code, code)
			}
			if body.Error.Kind != tc.kind {
				t.Errorf("want kind %s; got %s", tc.kind, body.Error.Kind)
			}
			if tc.field != "" && ptr.Or(body.Error.Field, "") != tc.field {
				t.Errorf("want field %s; got %v", tc.field, body.Error.Field)
			}
		})
	}
}

func TestHandler_InvalidToken(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest("POST", ts.srv.URL+"/api/calls", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer nope")

	resp, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("want 401; got %d", resp.StatusCode)
	}
}

func TestHandler_Healthz(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]string
	if code := ts.do(t, "GET", "/healthz", "", "", &body); code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("want ok; got %d %v", code, body)
	}
}
