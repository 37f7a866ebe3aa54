package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   *Event
		wantErr bool
	}{
		{"nil", nil, true},
		{"missing kind", &Event{Result: ResultAllowed}, true},
		{"missing result", &Event{Kind: KindPermissionCheck}, true},
		{"bad result", &Event{Kind: KindPermissionCheck, Result: "maybe"}, true},
		{"valid", &Event{Kind: KindPermissionCheck, Result: ResultDenied}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResultOf(t *testing.T) {
	assert.Equal(t, ResultAllowed, ResultOf(true))
	assert.Equal(t, ResultDenied, ResultOf(false))
}

func TestSearchFilter_EffectiveLimit(t *testing.T) {
	assert.Equal(t, DefaultSearchLimit, (&SearchFilter{}).effectiveLimit())
	assert.Equal(t, DefaultSearchLimit, (&SearchFilter{Limit: -3}).effectiveLimit())
	assert.Equal(t, 25, (&SearchFilter{Limit: 25}).effectiveLimit())
	assert.Equal(t, MaxSearchLimit, (&SearchFilter{Limit: MaxSearchLimit + 1}).effectiveLimit())
}

func TestLogrusLogger(t *testing.T) {
	log, hook := test.NewNullLogger()
	sink := NewLogrusLogger(log)

	require.NoError(t, sink.Log(context.Background(), &Event{
		Kind:       KindPermissionCheck,
		TenantID:   "tenant-1",
		UserID:     "user-1",
		Permission: "projects:read",
		Result:     ResultDenied,
		Reason:     "not_granted",
	}))
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "tenant-1", entry.Data["tenant_id"])
	assert.Equal(t, ResultDenied, entry.Data["result"])

	require.NoError(t, sink.Log(context.Background(), &Event{
		Kind:     KindOwnerBypass,
		Severity: SeverityWarning,
		Result:   ResultAllowed,
		Source:   "owner_bypass",
	}))
	entry = hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "owner_bypass", entry.Data["source"])

	assert.Error(t, sink.Log(context.Background(), &Event{}))
	assert.Len(t, hook.AllEntries(), 2)
}

func TestMultiLogger(t *testing.T) {
	t.Run("writes to every sink", func(t *testing.T) {
		a, b := NewRecorder(), NewRecorder()
		m := NewMultiLogger(a, b)

		require.NoError(t, m.Log(context.Background(), &Event{Kind: KindAdminAction, Result: ResultAllowed}))
		assert.Equal(t, 1, a.Count(KindAdminAction))
		assert.Equal(t, 1, b.Count(KindAdminAction))
	})

	t.Run("failing sink does not stop others", func(t *testing.T) {
		a, b := NewRecorder(), NewRecorder()
		boom := errors.New("disk full")
		a.FailWith(boom)
		m := NewMultiLogger(a, b)

		err := m.Log(context.Background(), &Event{Kind: KindAdminAction, Result: ResultAllowed})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, a.Count(KindAdminAction))
		assert.Equal(t, 1, b.Count(KindAdminAction))
	})

	t.Run("search uses first searchable sink", func(t *testing.T) {
		log, _ := test.NewNullLogger()
		rec := NewRecorder()
		m := NewMultiLogger(NewLogrusLogger(log), rec)

		require.NoError(t, m.Log(context.Background(), &Event{Kind: KindAdminAction, TenantID: "t1", Result: ResultAllowed}))
		events, err := m.Search(context.Background(), SearchFilter{TenantID: "t1"})
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("no searchable sink", func(t *testing.T) {
		m := NewMultiLogger(NoOpLogger{})
		_, err := m.Search(context.Background(), SearchFilter{TenantID: "t1"})
		assert.Error(t, err)
		assert.NoError(t, m.Close())
	})
}

func TestRecorder_Search(t *testing.T) {
	rec := NewRecorder()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, e := range []Event{
		{Kind: KindPermissionCheck, TenantID: "t1", UserID: "u1", Result: ResultAllowed},
		{Kind: KindPermissionCheck, TenantID: "t1", UserID: "u2", Result: ResultDenied},
		{Kind: KindAdminAction, TenantID: "t1", UserID: "u1", Result: ResultAllowed},
		{Kind: KindPermissionCheck, TenantID: "t2", UserID: "u1", Result: ResultDenied},
	} {
		e := e
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, rec.Log(ctx, &e))
	}

	_, err := rec.Search(ctx, SearchFilter{})
	assert.ErrorIs(t, err, ErrTenantRequired)

	all, err := rec.Search(ctx, SearchFilter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, KindAdminAction, all[0].Kind, "newest first")

	denied, err := rec.Search(ctx, SearchFilter{TenantID: "t1", Result: ResultDenied})
	require.NoError(t, err)
	require.Len(t, denied, 1)
	assert.Equal(t, "u2", denied[0].UserID)

	checks, err := rec.Search(ctx, SearchFilter{TenantID: "t1", UserID: "u1", Kinds: []Kind{KindPermissionCheck}})
	require.NoError(t, err)
	assert.Len(t, checks, 1)

	start := base.Add(90 * time.Second)
	late, err := rec.Search(ctx, SearchFilter{TenantID: "t1", StartTime: &start})
	require.NoError(t, err)
	assert.Len(t, late, 1)

	page, err := rec.Search(ctx, SearchFilter{TenantID: "t1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "u2", page[0].UserID)

	empty, err := rec.Search(ctx, SearchFilter{TenantID: "t1", Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRecorder_EventsAreCopies(t *testing.T) {
	rec := NewRecorder()
	e := &Event{Kind: KindPermissionCheck, TenantID: "t1", Result: ResultAllowed}
	require.NoError(t, rec.Log(context.Background(), e))

	e.TenantID = "changed"
	assert.Equal(t, "t1", rec.Events()[0].TenantID)
	assert.Equal(t, int64(1), e.ID)

	rec.Reset()
	assert.Empty(t, rec.Events())
}
