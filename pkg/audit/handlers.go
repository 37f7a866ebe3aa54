package audit

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantguard/pkg/authz"
	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
)

// Handlers serves audit reads for the resolved tenant
type Handlers struct {
	searcher Searcher
	logger   logrus.FieldLogger
}

// NewHandlers creates audit handlers over searcher
func NewHandlers(searcher Searcher, logger logrus.FieldLogger) *Handlers {
	return &Handlers{searcher: searcher, logger: logger}
}

// ListEventsResponse is the body of GET /audit/events
type ListEventsResponse struct {
	Events []*Event `json:"events"`
	Count  int      `json:"count"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// ListEvents handles GET /audit/events. The tenant always comes from the
// request context, never from the query string.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	rc, ok := contextkeys.RequestContextFrom(r.Context())
	if !ok || rc.TenantID() == "" {
		httputil.WriteAuthzError(w, authz.ErrTenantRequired(), rc.CorrelationID())
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteAuthzError(w, authz.ErrInvalidRequest(err.Error()), rc.CorrelationID())
		return
	}
	filter.TenantID = rc.TenantID()

	events, err := h.searcher.Search(r.Context(), filter)
	if err != nil {
		contextkeys.Logger(r.Context(), h.logger).WithError(err).Error("audit search failed")
		if errors.Is(err, ErrTenantRequired) {
			httputil.WriteAuthzError(w, authz.ErrTenantRequired(), rc.CorrelationID())
			return
		}
		httputil.WriteAuthzError(w, authz.ErrStoreUnavailable().Wrap(err), rc.CorrelationID())
		return
	}

	httputil.WriteSuccess(w, ListEventsResponse{
		Events: events,
		Count:  len(events),
		Limit:  filter.effectiveLimit(),
		Offset: filter.Offset,
	})
}

func parseFilter(r *http.Request) (SearchFilter, error) {
	q := r.URL.Query()
	filter := SearchFilter{
		UserID: strings.TrimSpace(q.Get("user_id")),
	}

	for _, k := range q["kind"] {
		for _, part := range strings.Split(k, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.Kinds = append(filter.Kinds, Kind(part))
			}
		}
	}

	switch res := Result(q.Get("result")); res {
	case "", ResultAllowed, ResultDenied:
		filter.Result = res
	default:
		return filter, errors.New("result must be allowed or denied")
	}

	for key, dest := range map[string]**time.Time{"start_time": &filter.StartTime, "end_time": &filter.EndTime} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New(key + " must be RFC3339")
		}
		*dest = &t
	}

	var err error
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", DefaultSearchLimit); err != nil {
		return filter, err
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return filter, err
	}
	if filter.Offset < 0 {
		return filter, errors.New("offset must not be negative")
	}
	return filter, nil
}
