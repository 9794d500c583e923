package types

import (
	"fmt"
	"time"

	"github.com/firgia/soca/cursor"
	"github.com/firgia/soca/validator"
	"github.com/hako/durafmt"
)

const (
	minStatisticYear = 2000
	maxStatisticYear = 3000
)

type ListCallHistory struct {
	PageArgs

	userID string
}

func (in *ListCallHistory) SetUserID(userID string) {
	in.userID = userID
}

func (in ListCallHistory) UserID() string {
	return in.userID
}

func (in *ListCallHistory) Validate() error {
	return in.PageArgs.Validate()
}

type CallHistoryItem struct {
	ID         string     `json:"id"`
	State      CallState  `json:"state"`
	Role       CallRole   `json:"role"`
	CreatedAt  time.Time  `json:"created_at"`
	EndedAt    *time.Time `json:"ended_at"`
	Duration   *string    `json:"duration"`
	RemoteUser *User      `json:"remote_user"`
}

// SetDuration fills Duration for calls that were actually talked through.
func (it *CallHistoryItem) SetDuration() {
	if it.State != CallStateEnded || it.EndedAt == nil || it.EndedAt.Before(it.CreatedAt) {
		it.Duration = nil
		return
	}

	d := it.EndedAt.Sub(it.CreatedAt).Round(time.Second)
	s := durafmt.Parse(d).LimitFirstN(2).String()
	it.Duration = &s
}

type CallHistory []CallHistoryItem

func (hh CallHistory) EndCursor() *string {
	if len(hh) == 0 {
		return nil
	}

	last := hh[len(hh)-1]
	c, err := cursor.Encode(cursor.Cursor[time.Time]{ID: last.ID, Value: last.CreatedAt})
	if err != nil {
		return nil
	}
	return &c
}

type RetrieveCallStatistic struct {
	Year   int
	Locale string
}

func (in *RetrieveCallStatistic) Validate() error {
	v := validator.New()
	v.Check(in.Year >= minStatisticYear && in.Year <= maxStatisticYear,
		"year", fmt.Sprintf("year must be a number within %d - %d", minStatisticYear, maxStatisticYear))
	return v.AsError()
}

// Range is the half-open UTC interval [from, to) covering the year.
func (in RetrieveCallStatistic) Range() (time.Time, time.Time) {
	from := time.Date(in.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(1, 0, 0)
}

type MonthlyStatistic struct {
	Month string `json:"month"`
	Total int    `json:"total"`
}

type CallStatistic struct {
	Total             int                  `json:"total"`
	MonthlyStatistics [12]MonthlyStatistic `json:"monthly_statistics"`
}

// NewCallStatistic buckets the creation times by UTC month. labels
// names each month, January first.
func NewCallStatistic(createdAts []time.Time, labels [12]string) CallStatistic {
	var out CallStatistic
	for i, label := range labels {
		out.MonthlyStatistics[i].Month = label
	}

	for _, ts := range createdAts {
		out.MonthlyStatistics[ts.UTC().Month()-1].Total++
		out.Total++
	}

	return out
}

func (s CallStatistic) Buckets() [12]int {
	var out [12]int
	for i, m := range s.MonthlyStatistics {
		out[i] = m.Total
	}
	return out
}
