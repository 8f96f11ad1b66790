package streams

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/ajitpratap0/adsync/pkg/catalog"
	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/googleads"
	jsonpkg "github.com/ajitpratap0/adsync/pkg/json"
	"github.com/ajitpratap0/adsync/pkg/metrics"
	"github.com/ajitpratap0/adsync/pkg/state"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	pages   [][]string
	err     error
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, _ string, query string) ([]googleads.Row, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.queries) > len(f.pages) {
		return nil, nil
	}
	var rows []googleads.Row
	for _, r := range f.pages[len(f.queries)-1] {
		rows = append(rows, googleads.Row(r))
	}
	return rows, nil
}

type emitted struct {
	stream string
	record map[string]interface{}
}

type recordingOutput struct {
	records []emitted
}

func (o *recordingOutput) WriteRecord(stream string, record interface{}) error {
	o.records = append(o.records, emitted{stream: stream, record: record.(map[string]interface{})})
	return nil
}

type countingSink struct {
	bookmarks []string
}

func (c *countingSink) Save(_ context.Context, st *state.State) error {
	c.bookmarks = append(c.bookmarks, st.Bookmark("campaign_performance_report", "111"))
	return nil
}

func entry(t *testing.T, doc string) *catalog.Entry {
	t.Helper()
	c, err := catalog.Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, c.Streams, 1)
	return c.Streams[0]
}

const campaignEntry = `{"streams": [{
  "tap_stream_id": "campaign",
  "schema": {},
  "metadata": [
    {"breadcrumb": [], "metadata": {"selected": true, "table-key-properties": ["campaign.id"]}},
    {"breadcrumb": ["properties", "campaign.id"], "metadata": {"inclusion": "automatic"}},
    {"breadcrumb": ["properties", "campaign.name"], "metadata": {"inclusion": "available", "selected": true}},
    {"breadcrumb": ["properties", "customer_id"], "metadata": {"inclusion": "automatic"}}
  ]
}]}`

const reportEntry = `{"streams": [{
  "tap_stream_id": "campaign_performance_report",
  "schema": {},
  "metadata": [
    {"breadcrumb": [], "metadata": {"selected": true, "valid-replication-keys": ["segments.date"]}},
    {"breadcrumb": ["properties", "campaign.id"], "metadata": {"inclusion": "automatic"}},
    {"breadcrumb": ["properties", "metrics.clicks"], "metadata": {"inclusion": "available", "selected": true}}
  ]
}]}`

func fixedClock() time.Time {
	return time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
}

func TestQueryStreamFullTable(t *testing.T) {
	searcher := &fakeSearcher{pages: [][]string{{
		`{"campaign":{"resourceName":"customers/111/campaigns/1","id":"1","name":"Brand"}}`,
		`{"campaign":{"resourceName":"customers/111/campaigns/2","id":"2","name":"Generic"}}`,
	}}}
	out := &recordingOutput{}
	m := metrics.NewUnregistered()

	s := &QueryStream{Resource: "campaign"}
	err := s.Sync(context.Background(), Request{
		Client:  searcher,
		Target:  Target{LoginCustomerID: "999", CustomerID: "111"},
		Entry:   entry(t, campaignEntry),
		Config:  config.NewConfig(),
		State:   state.New(),
		Limit:   1000000,
		Output:  out,
		Metrics: m,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"SELECT campaign.id, campaign.name FROM campaign"}, searcher.queries)
	require.Len(t, out.records, 2)
	assert.Equal(t, "campaign", out.records[0].stream)
	assert.Equal(t, map[string]interface{}{
		"campaign.resource_name": "customers/111/campaigns/1",
		"campaign.id":            "1",
		"campaign.name":          "Brand",
		"customer_id":            "111",
	}, out.records[0].record)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsEmitted.WithLabelValues("campaign")))
}

func TestQueryStreamIncrementalPaging(t *testing.T) {
	searcher := &fakeSearcher{pages: [][]string{
		{
			`{"campaign":{"id":"1"},"metrics":{"clicks":"3"},"segments":{"date":"2024-05-01"}}`,
			`{"campaign":{"id":"1"},"metrics":{"clicks":"4"},"segments":{"date":"2024-05-02"}}`,
		},
		{
			`{"campaign":{"id":"1"},"metrics":{"clicks":"4"},"segments":{"date":"2024-05-02"}}`,
		},
		{
			`{"campaign":{"id":"1"},"metrics":{"clicks":"5"},"segments":{"date":"2024-05-03"}}`,
		},
	}}
	out := &recordingOutput{}
	sink := &countingSink{}
	cfg := config.NewConfig()
	cfg.StartDate = "2024-05-01"
	st := state.New()

	s := &QueryStream{Resource: "campaign", ReplicationKey: DateReplicationKey, now: fixedClock}
	err := s.Sync(context.Background(), Request{
		Client: searcher,
		Target: Target{CustomerID: "111"},
		Entry:  entry(t, reportEntry),
		Config: cfg,
		State:  st,
		Limit:  2,
		Output: out,
		Sink:   sink,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"SELECT campaign.id, metrics.clicks, segments.date FROM campaign WHERE segments.date >= '2024-05-01' AND segments.date <= '2024-05-10' ORDER BY segments.date LIMIT 2",
		"SELECT campaign.id, metrics.clicks, segments.date FROM campaign WHERE segments.date = '2024-05-02' ORDER BY segments.date",
		"SELECT campaign.id, metrics.clicks, segments.date FROM campaign WHERE segments.date > '2024-05-02' AND segments.date <= '2024-05-10' ORDER BY segments.date LIMIT 2",
	}, searcher.queries)
	assert.Len(t, out.records, 3)
	assert.Equal(t, "2024-05-03", st.Bookmark("campaign_performance_report", "111"))
	assert.Equal(t, []string{"2024-05-01", "2024-05-02", "2024-05-03"}, sink.bookmarks)
}

// rangeSearcher serves rows already sorted by key, honouring the key
// comparisons and LIMIT of each query
type rangeSearcher struct {
	key     string
	values  []string
	row     func(i int, value string) string
	queries []string
}

var limitClause = regexp.MustCompile(`LIMIT (\d+)`)

func (f *rangeSearcher) Search(_ context.Context, _ string, query string) ([]googleads.Row, error) {
	f.queries = append(f.queries, query)
	conds := regexp.MustCompile(regexp.QuoteMeta(f.key)+` (>=|<=|=|>) (?:'([^']*)'|([0-9.-]+))`).FindAllStringSubmatch(query, -1)
	limit := -1
	if m := limitClause.FindStringSubmatch(query); m != nil {
		limit, _ = strconv.Atoi(m[1])
	}

	var rows []googleads.Row
	for i, v := range f.values {
		if !inRange(v, conds) {
			continue
		}
		if limit >= 0 && len(rows) == limit {
			break
		}
		rows = append(rows, googleads.Row(f.row(i, v)))
	}
	return rows, nil
}

func inRange(v string, conds [][]string) bool {
	for _, c := range conds {
		cmp := compareKeys(v, c[2]+c[3])
		var ok bool
		switch c[1] {
		case "=":
			ok = cmp == 0
		case ">=":
			ok = cmp >= 0
		case ">":
			ok = cmp > 0
		case "<=":
			ok = cmp <= 0
		}
		if !ok {
			return false
		}
	}
	return true
}

func recordIDs(out *recordingOutput, field string) []string {
	var ids []string
	for _, r := range out.records {
		ids = append(ids, r.record[field].(string))
	}
	return ids
}

func TestQueryStreamDrainsKeyValueLargerThanLimit(t *testing.T) {
	tests := []struct {
		name      string
		dates     []string
		bookmarks []string
	}{
		{
			name:      "crowded date mid range",
			dates:     []string{"2024-05-01", "2024-05-02", "2024-05-02", "2024-05-02", "2024-05-03"},
			bookmarks: []string{"2024-05-01", "2024-05-02", "2024-05-03"},
		},
		{
			name:      "crowded first date",
			dates:     []string{"2024-05-01", "2024-05-01", "2024-05-01", "2024-05-02"},
			bookmarks: []string{"2024-05-01", "2024-05-02"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &rangeSearcher{
				key:    DateReplicationKey,
				values: tt.dates,
				row: func(i int, date string) string {
					return fmt.Sprintf(`{"campaign":{"id":"%d"},"segments":{"date":"%s"}}`, i, date)
				},
			}
			cfg := config.NewConfig()
			cfg.StartDate = "2024-05-01"
			st := state.New()
			sink := &countingSink{}
			out := &recordingOutput{}
			s := &QueryStream{Resource: "campaign", ReplicationKey: DateReplicationKey, now: fixedClock}

			req := Request{
				Client: searcher,
				Target: Target{CustomerID: "111"},
				Entry:  entry(t, reportEntry),
				Config: cfg,
				State:  st,
				Limit:  2,
				Output: out,
				Sink:   sink,
			}
			require.NoError(t, s.Sync(context.Background(), req))

			var want []string
			for i := range tt.dates {
				want = append(want, strconv.Itoa(i))
			}
			assert.Equal(t, want, recordIDs(out, "campaign.id"), "every row exactly once")
			last := tt.dates[len(tt.dates)-1]
			assert.Equal(t, last, st.Bookmark("campaign_performance_report", "111"))
			assert.Equal(t, tt.bookmarks, sink.bookmarks)

			// a later run resumes at the bookmark and only re-reads its date
			next := &recordingOutput{}
			req.Output = next
			searcher.queries = nil
			require.NoError(t, s.Sync(context.Background(), req))
			assert.Len(t, searcher.queries, 1)
			for _, r := range next.records {
				assert.Equal(t, last, r.record[DateReplicationKey])
			}
			assert.Equal(t, last, st.Bookmark("campaign_performance_report", "111"))
		})
	}
}

const changeStatusEntry = `{"streams": [{
  "tap_stream_id": "change_status",
  "schema": {},
  "metadata": [
    {"breadcrumb": [], "metadata": {"selected": true, "replication-key": "change_status.id"}}
  ]
}]}`

func TestQueryStreamNumericReplicationKey(t *testing.T) {
	searcher := &rangeSearcher{
		key:    "change_status.id",
		values: []string{"8", "9", "10", "10", "11"},
		row: func(i int, id string) string {
			return fmt.Sprintf(`{"changeStatus":{"resourceName":"r%d","id":"%s"}}`, i, id)
		},
	}
	st := state.New()
	out := &recordingOutput{}

	s := &QueryStream{Resource: "change_status", DefaultFields: []string{"change_status.resource_name"}}
	err := s.Sync(context.Background(), Request{
		Client: searcher,
		Target: Target{CustomerID: "111"},
		Entry:  entry(t, changeStatusEntry),
		Config: config.NewConfig(),
		State:  st,
		Limit:  2,
		Output: out,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"r0", "r1", "r2", "r3", "r4"}, recordIDs(out, "change_status.resource_name"))
	assert.Equal(t, "11", st.Bookmark("change_status", "111"))
	assert.Contains(t, searcher.queries, "SELECT change_status.resource_name, change_status.id FROM change_status WHERE change_status.id > 9 ORDER BY change_status.id LIMIT 2")
}

func TestQueryStreamResumesFromBookmark(t *testing.T) {
	searcher := &fakeSearcher{}
	cfg := config.NewConfig()
	cfg.StartDate = "2024-01-01"
	st := state.New()
	st.SetBookmark("campaign_performance_report", "111", "2024-05-05")

	s := &QueryStream{Resource: "campaign", now: fixedClock}
	err := s.Sync(context.Background(), Request{
		Client: searcher,
		Target: Target{CustomerID: "111"},
		Entry:  entry(t, reportEntry),
		Config: cfg,
		State:  st,
		Limit:  10,
		Output: &recordingOutput{},
	})
	require.NoError(t, err)

	require.Len(t, searcher.queries, 1)
	assert.Contains(t, searcher.queries[0], "segments.date >= '2024-05-05'")
	assert.Equal(t, "2024-05-05", st.Bookmark("campaign_performance_report", "111"))
}

func TestQueryStreamDefaultLookback(t *testing.T) {
	searcher := &fakeSearcher{}
	s := &QueryStream{Resource: "campaign", now: fixedClock}
	err := s.Sync(context.Background(), Request{
		Client: searcher,
		Target: Target{CustomerID: "111"},
		Entry:  entry(t, reportEntry),
		Config: config.NewConfig(),
		State:  state.New(),
		Limit:  10,
		Output: &recordingOutput{},
	})
	require.NoError(t, err)

	require.Len(t, searcher.queries, 1)
	assert.Contains(t, searcher.queries[0], "segments.date >= '2024-04-10'")
}

func TestQueryStreamSearchError(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New(errors.ErrorTypePermission, "denied")}
	s := &QueryStream{Resource: "campaign"}
	err := s.Sync(context.Background(), Request{
		Client: searcher,
		Target: Target{CustomerID: "111"},
		Entry:  entry(t, campaignEntry),
		State:  state.New(),
		Output: &recordingOutput{},
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypePermission))
}

func TestQueryStreamFallsBackToDefaultFields(t *testing.T) {
	searcher := &fakeSearcher{}
	s := &QueryStream{Resource: "label", DefaultFields: []string{"label.id", "label.name"}}
	err := s.Sync(context.Background(), Request{
		Client: searcher,
		Target: Target{CustomerID: "111"},
		Entry:  &catalog.Entry{TapStreamID: "label", Stream: "label"},
		State:  state.New(),
		Output: &recordingOutput{},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT label.id, label.name FROM label"}, searcher.queries)

	err = (&QueryStream{Resource: "label"}).Sync(context.Background(), Request{
		Client: searcher,
		Entry:  &catalog.Entry{TapStreamID: "label"},
		State:  state.New(),
		Output: &recordingOutput{},
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name  string
		keys  KeyRange
		limit int
		want  string
	}{
		{"full table", KeyRange{}, 0, "SELECT a.b, c.d FROM res"},
		{"limit only", KeyRange{}, 5, "SELECT a.b, c.d FROM res LIMIT 5"},
		{"key without bounds", KeyRange{Key: "c.d"}, 0, "SELECT a.b, c.d FROM res ORDER BY c.d"},
		{"lower bound", KeyRange{Key: "c.d", From: "x"}, 10, "SELECT a.b, c.d FROM res WHERE c.d >= 'x' ORDER BY c.d LIMIT 10"},
		{"exclusive lower bound", KeyRange{Key: "c.d", From: "x", After: true, To: "z"}, 10, "SELECT a.b, c.d FROM res WHERE c.d > 'x' AND c.d <= 'z' ORDER BY c.d LIMIT 10"},
		{"equality overrides bounds", KeyRange{Key: "c.d", From: "a", To: "z", Equal: "m"}, 0, "SELECT a.b, c.d FROM res WHERE c.d = 'm' ORDER BY c.d"},
		{"numeric bound unquoted", KeyRange{Key: "c.d", From: "42"}, 0, "SELECT a.b, c.d FROM res WHERE c.d >= 42 ORDER BY c.d"},
		{"quoted bound", KeyRange{Key: "c.d", From: "it's"}, 0, `SELECT a.b, c.d FROM res WHERE c.d >= 'it\'s' ORDER BY c.d`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildQuery([]string{"a.b", "c.d"}, "res", tt.keys, tt.limit))
		})
	}
}

func TestCompareKeys(t *testing.T) {
	assert.Equal(t, -1, compareKeys("9", "10"))
	assert.Equal(t, 1, compareKeys("10.5", "10"))
	assert.Equal(t, 0, compareKeys("007", "7"))
	assert.Equal(t, 1, compareKeys("9223372036854775807", "9223372036854775806"))
	assert.Equal(t, -1, compareKeys("2024-05-09", "2024-05-10"))
	assert.Equal(t, 1, compareKeys("2024-05-10 13:00:00", "2024-05-10 09:00:00"))
}

func TestFlatten(t *testing.T) {
	var nested map[string]interface{}
	require.NoError(t, jsonpkg.Unmarshal([]byte(`{
		"adGroupAd": {"ad": {"finalUrls": ["https://example.com"], "id": "7"}},
		"metrics": {"costMicros": "1200000", "ctr": 0.5}
	}`), &nested))

	flat := Flatten(nested)
	assert.Equal(t, []interface{}{"https://example.com"}, flat["ad_group_ad.ad.final_urls"])
	assert.Equal(t, "7", flat["ad_group_ad.ad.id"])
	assert.Equal(t, "1200000", flat["metrics.cost_micros"])
	assert.Equal(t, 0.5, flat["metrics.ctr"])
	assert.Len(t, flat, 4)
}

func TestSnakeCase(t *testing.T) {
	assert.Equal(t, "cost_micros", SnakeCase("costMicros"))
	assert.Equal(t, "ad_group_criterion", SnakeCase("adGroupCriterion"))
	assert.Equal(t, "id", SnakeCase("id"))
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	s, ok := r.Get("campaign_performance_report")
	require.True(t, ok)
	assert.Equal(t, DateReplicationKey, s.(*QueryStream).ReplicationKey)

	s, ok = r.Get("account")
	require.True(t, ok)
	assert.Equal(t, "customer", s.(*QueryStream).Resource)
	assert.Empty(t, s.(*QueryStream).ReplicationKey)

	_, ok = r.Get("feed")
	assert.False(t, ok)

	ids := r.IDs()
	assert.Contains(t, ids, "keywords_performance_report")
	assert.IsIncreasing(t, ids)
}
