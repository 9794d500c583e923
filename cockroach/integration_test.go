package cockroach

import (
	"context"
	"flag"
	"fmt"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/firgia/soca/cockroach/migrator"
	"github.com/firgia/soca/errs"
	"github.com/firgia/soca/id"
	"github.com/firgia/soca/ptr"
	"github.com/firgia/soca/types"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
)

var (
	testDB        *pgxpool.Pool
	testCockroach *Cockroach
)

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	var skipIntegration bool
	flag.BoolVar(&skipIntegration, "skip-integration", false, "Skip integration tests docker setup")
	flag.Parse()

	if skipIntegration || testing.Short() {
		return m.Run()
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		fmt.Printf("could not create docker pool: %v\n", err)
		return 1
	}

	var cleanup func() error
	testDB, cleanup, err = setupTestDB(pool)
	if err != nil {
		fmt.Printf("could not setup test db: %v\n", err)
		return 1
	}
	testCockroach = New(testDB)

	defer func() {
		if err := cleanup(); err != nil {
			fmt.Printf("could not cleanup cockroach container: %v\n", err)
		}
	}()

	if err := migrator.Migrate(context.Background(), testDB, MigrationsFS); err != nil {
		fmt.Printf("could not migrate: %v\n", err)
		return 1
	}

	return m.Run()
}

func setupTestDB(pool *dockertest.Pool) (*pgxpool.Pool, func() error, error) {
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "cockroachdb/cockroach",
		Tag:        "latest",
		Cmd:        []string{"start-single-node", "--insecure"},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("could not create cockroach resource: %w", err)
	}

	var db *pgxpool.Pool
	err = pool.Retry(func() (err error) {
		hostPort := resource.GetHostPort("26257/tcp")
		db, err = pgxpool.New(context.Background(), "postgresql://root@"+hostPort+"/defaultdb?sslmode=disable")
		if err != nil {
			return fmt.Errorf("could not open db: %w", err)
		}

		if err = db.Ping(context.Background()); err != nil {
			return fmt.Errorf("could not ping db: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return db, func() error {
		db.Close()
		return pool.Purge(resource)
	}, nil
}

func requireDB(t *testing.T) {
	t.Helper()
	if testCockroach == nil {
		t.Skip("integration tests disabled")
	}
}

func genProfile(t *testing.T, userType types.UserType, languages ...string) types.Profile {
	t.Helper()

	p := types.Profile{
		User: types.User{
			ID:   id.Generate(),
			Name: ptr.From("test user"),
			Type: userType,
		},
		Device: types.Device{
			Platform: ptr.From(types.PlatformAndroid),
			PlayerID: ptr.From("player-" + id.Generate()),
		},
		Languages:       languages,
		CanReceiveCalls: true,
	}

	if err := testCockroach.UpsertProfile(context.Background(), p); err != nil {
		t.Fatalf("could not upsert profile: %v", err)
	}

	return p
}

func genCall(blindID string, targets ...string) types.Call {
	return types.Call{
		ID:                 id.Generate(),
		TargetVolunteerIDs: targets,
		RTCChannelID:       id.Channel(),
		Users:              types.CallUsers{BlindID: blindID},
		Role:               types.CallRoleCaller,
		State:              types.CallStateWaiting,
		CreatedAt:          time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestCockroach_AvailableVolunteers(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	// Unique language so other tests can not interfere.
	lang := "x-" + id.Generate()
	blind := genProfile(t, types.UserTypeBlind, lang)
	v1 := genProfile(t, types.UserTypeVolunteer, lang, "en")
	v2 := genProfile(t, types.UserTypeVolunteer, "fr", lang)
	genProfile(t, types.UserTypeVolunteer, "fr")

	disabled := genProfile(t, types.UserTypeVolunteer, lang)
	disabled.Disabled = true
	if err := testCockroach.UpsertProfile(ctx, disabled); err != nil {
		t.Fatal(err)
	}

	busy := genProfile(t, types.UserTypeVolunteer, lang)
	if _, err := testCockroach.SetCallAvailability(ctx, []string{busy.ID}, false); err != nil {
		t.Fatal(err)
	}

	got, err := testCockroach.AvailableVolunteers(ctx, types.ListAvailableVolunteers{
		Languages:     []string{lang},
		ExcludeUserID: blind.ID,
	})
	if err != nil {
		t.Fatal(err)
	}

	var ids []string
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	slices.Sort(ids)

	want := []string{v1.ID, v2.ID}
	slices.Sort(want)

	if !slices.Equal(ids, want) {
		t.Errorf("want volunteers %v; got %v", want, ids)
	}
}

func TestCockroach_SetCallAvailability(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	v := genProfile(t, types.UserTypeVolunteer, "en")
	missing := id.Generate()

	results, err := testCockroach.SetCallAvailability(ctx, []string{v.ID, missing}, false)
	if err != nil {
		t.Fatal(err)
	}

	if len(results) != 2 {
		t.Fatalf("want 2 results; got %d", len(results))
	}
	if results[0].Err != nil {
		t.Errorf("unexpected error for existing user: %v", results[0].Err)
	}
	if !errs.IsNotFound(results[1].Err) {
		t.Errorf("want not found for missing user; got %v", results[1].Err)
	}

	got, err := testCockroach.Profile(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CanReceiveCalls {
		t.Error("want can_receive_calls false")
	}
}

func TestCockroach_UserCall(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	blind := genProfile(t, types.UserTypeBlind, "en")
	v1 := genProfile(t, types.UserTypeVolunteer, "en")
	v2 := genProfile(t, types.UserTypeVolunteer, "en")

	call := genCall(blind.ID, v1.ID, v2.ID)
	if err := testCockroach.PutUserCall(ctx, blind.ID, call); err != nil {
		t.Fatal(err)
	}

	t.Run("not_found", func(t *testing.T) {
		_, err := testCockroach.UserCall(ctx, v1.ID, call.ID)
		if !errs.IsNotFound(err) {
			t.Errorf("want not found; got %v", err)
		}
	})

	t.Run("partial_update", func(t *testing.T) {
		err := testCockroach.UpdateUserCall(ctx, blind.ID, call.ID, types.CallPatch{
			State:       ptr.From(types.CallStateOngoing),
			VolunteerID: ptr.From(v1.ID),
		})
		if err != nil {
			t.Fatal(err)
		}

		got, err := testCockroach.UserCall(ctx, blind.ID, call.ID)
		if err != nil {
			t.Fatal(err)
		}

		if got.State != types.CallStateOngoing || !got.IsVolunteer(v1.ID) {
			t.Errorf("unexpected call %+v", got)
		}
		if got.RTCChannelID != call.RTCChannelID || !got.CreatedAt.Equal(call.CreatedAt) {
			t.Errorf("untouched fields changed: %+v", got)
		}
		if !slices.Equal(got.TargetVolunteerIDs, call.TargetVolunteerIDs) {
			t.Errorf("targets changed: %v", got.TargetVolunteerIDs)
		}
	})

	t.Run("targets_only_shrink", func(t *testing.T) {
		shorter := []string{v2.ID}
		if err := testCockroach.UpdateUserCall(ctx, blind.ID, call.ID, types.CallPatch{TargetVolunteerIDs: &shorter}); err != nil {
			t.Fatal(err)
		}

		longer := []string{v1.ID, v2.ID}
		if err := testCockroach.UpdateUserCall(ctx, blind.ID, call.ID, types.CallPatch{TargetVolunteerIDs: &longer}); err != nil {
			t.Fatal(err)
		}

		got, err := testCockroach.UserCall(ctx, blind.ID, call.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(got.TargetVolunteerIDs, shorter) {
			t.Errorf("want targets %v; got %v", shorter, got.TargetVolunteerIDs)
		}
	})

	t.Run("update_missing", func(t *testing.T) {
		err := testCockroach.UpdateUserCall(ctx, v2.ID, call.ID, types.CallPatch{State: ptr.From(types.CallStateEnded)})
		if !errs.IsNotFound(err) {
			t.Errorf("want not found; got %v", err)
		}
	})

	t.Run("ended_copy_kept", func(t *testing.T) {
		err := testCockroach.UpdateUserCall(ctx, blind.ID, call.ID, types.CallPatch{State: ptr.From(types.CallStateEnded)})
		if err != nil {
			t.Fatal(err)
		}

		err = testCockroach.UpdateUserCall(ctx, blind.ID, call.ID, types.CallPatch{State: ptr.From(types.CallStateOngoing)})
		if err != nil {
			t.Fatal(err)
		}

		live := call
		live.State = types.CallStateOngoing
		if err := testCockroach.PutUserCall(ctx, blind.ID, live); err != nil {
			t.Fatal(err)
		}

		got, err := testCockroach.UserCall(ctx, blind.ID, call.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.State != types.CallStateEnded {
			t.Errorf("want state %q; got %q", types.CallStateEnded, got.State)
		}
	})
}

func TestCockroach_CallHistory(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	blind := genProfile(t, types.UserTypeBlind, "en")
	volunteer := genProfile(t, types.UserTypeVolunteer, "en")

	var calls []types.Call
	for i := 0; i < 3; i++ {
		call := genCall(blind.ID, volunteer.ID)
		call.CreatedAt = time.Date(2024, time.March, 1+i, 10, 0, 0, 0, time.UTC)
		call.Users.VolunteerID = ptr.From(volunteer.ID)
		call.State = types.CallStateEnded
		call.EndedAt = ptr.From(call.CreatedAt.Add(90 * time.Second))
		if err := testCockroach.PutUserCall(ctx, blind.ID, call); err != nil {
			t.Fatal(err)
		}
		calls = append(calls, call)
	}

	in := types.ListCallHistory{PageArgs: types.PageArgs{First: ptr.From(uint(2))}}
	in.SetUserID(blind.ID)

	page, err := testCockroach.CallHistory(ctx, in)
	if err != nil {
		t.Fatal(err)
	}

	if len(page.Items) != 2 || !page.PageInfo.HasNextPage {
		t.Fatalf("unexpected first page: %d items, has next %v", len(page.Items), page.PageInfo.HasNextPage)
	}
	if page.Items[0].ID != calls[2].ID {
		t.Errorf("want newest first")
	}
	if page.Items[0].RemoteUser == nil || page.Items[0].RemoteUser.ID != volunteer.ID {
		t.Errorf("want remote user %s; got %+v", volunteer.ID, page.Items[0].RemoteUser)
	}
	if page.Items[0].Duration == nil || *page.Items[0].Duration != "1 minute 30 seconds" {
		t.Errorf("unexpected duration %v", page.Items[0].Duration)
	}

	in.After = page.PageInfo.EndCursor
	page, err = testCockroach.CallHistory(ctx, in)
	if err != nil {
		t.Fatal(err)
	}

	if len(page.Items) != 1 || page.PageInfo.HasNextPage || page.Items[0].ID != calls[0].ID {
		t.Errorf("unexpected second page: %+v", page)
	}

	times, err := testCockroach.CallCreationTimes(ctx, blind.ID,
		time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(times) != 3 {
		t.Errorf("want 3 creation times; got %d", len(times))
	}
}

func TestCockroach_RecordCallCreated(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	blind := genProfile(t, types.UserTypeBlind, "en")
	at := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if err := testCockroach.RecordCallCreated(ctx, blind.ID, at); err != nil {
			t.Fatal(err)
		}
	}

	got, err := testCockroach.Profile(ctx, blind.ID)
	if err != nil {
		t.Fatal(err)
	}

	if got.TotalCalls != 2 {
		t.Errorf("want total calls 2; got %d", got.TotalCalls)
	}
	if !slices.Equal(got.CallYears, []string{"2024"}) {
		t.Errorf("want call years [2024]; got %v", got.CallYears)
	}

	err = testCockroach.RecordCallCreated(ctx, id.Generate(), at)
	if !errs.IsNotFound(err) {
		t.Errorf("want not found; got %v", err)
	}
}
