package types

import (
	"testing"
	"time"

	"github.com/firgia/soca/errs"
	"github.com/firgia/soca/ptr"
)

func Test_NewCallStatistic(t *testing.T) {
	createdAts := []time.Time{
		time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.March, 15, 12, 30, 0, 0, time.UTC),
		time.Date(2024, time.March, 31, 23, 59, 59, 0, time.UTC),
	}

	got := NewCallStatistic(createdAts, MonthLabels("en"))

	if got.Total != 3 {
		t.Errorf("want total 3; got %d", got.Total)
	}

	want := [12]int{0, 0, 3}
	if got.Buckets() != want {
		t.Errorf("want buckets %v; got %v", want, got.Buckets())
	}

	if got.MonthlyStatistics[2].Month != "Mar" {
		t.Errorf("want label Mar; got %q", got.MonthlyStatistics[2].Month)
	}
}

func Test_NewCallStatistic_UTC(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*60*60)
	// 2024-04-01 05:00 in Jakarta is still March in UTC.
	createdAts := []time.Time{time.Date(2024, time.April, 1, 5, 0, 0, 0, jakarta)}

	got := NewCallStatistic(createdAts, MonthLabels("en"))
	if got.Buckets()[2] != 1 {
		t.Errorf("want March bucket; got %v", got.Buckets())
	}
}

func Test_RetrieveCallStatistic_Validate(t *testing.T) {
	tt := []struct {
		year    int
		wantErr bool
	}{
		{year: 1999, wantErr: true},
		{year: 2000, wantErr: false},
		{year: 2024, wantErr: false},
		{year: 3000, wantErr: false},
		{year: 3001, wantErr: true},
		{year: 0, wantErr: true},
	}
	for _, tc := range tt {
		in := RetrieveCallStatistic{Year: tc.year}
		err := in.Validate()
		if tc.wantErr != errs.Is(err, errs.KindInvalidArgument) {
			t.Errorf("year %d: want error %v; got %v", tc.year, tc.wantErr, err)
		}
	}
}

func Test_RetrieveCallStatistic_Range(t *testing.T) {
	in := RetrieveCallStatistic{Year: 2024}
	from, to := in.Range()

	if !from.Equal(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected from %v", from)
	}
	if !to.Equal(time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected to %v", to)
	}
}

func Test_CallHistoryItem_SetDuration(t *testing.T) {
	createdAt := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)

	it := CallHistoryItem{
		State:     CallStateEnded,
		CreatedAt: createdAt,
		EndedAt:   ptr.From(createdAt.Add(3*time.Minute + 12*time.Second)),
	}
	it.SetDuration()
	if it.Duration == nil || *it.Duration != "3 minutes 12 seconds" {
		t.Errorf("unexpected duration %v", it.Duration)
	}

	it.State = CallStateEndedWithCanceled
	it.SetDuration()
	if it.Duration != nil {
		t.Errorf("canceled call: want no duration; got %q", *it.Duration)
	}
}

func Test_CallHistory_EndCursor(t *testing.T) {
	var hh CallHistory
	if hh.EndCursor() != nil {
		t.Error("want nil cursor on empty history")
	}

	hh = CallHistory{{ID: "a"}, {ID: "b"}}
	if hh.EndCursor() == nil {
		t.Error("want cursor")
	}
}

func Test_MonthLabels(t *testing.T) {
	tt := []struct {
		locale string
		may    string
	}{
		{locale: "", may: "May"},
		{locale: "en-US", may: "May"},
		{locale: "id", may: "Mei"},
		{locale: "id-ID", may: "Mei"},
		{locale: "es-MX", may: "may"},
		{locale: "es-ES,es;q=0.9", may: "may"},
		{locale: "fr-FR,id;q=0.8,en;q=0.5", may: "Mei"},
		{locale: "not a locale", may: "May"},
	}
	for _, tc := range tt {
		t.Run(tc.locale, func(t *testing.T) {
			got := MonthLabels(tc.locale)[4]
			if got != tc.may {
				t.Errorf("want %q; got %q", tc.may, got)
			}
		})
	}
}
