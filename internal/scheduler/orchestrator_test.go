package scheduler

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/ajitpratap0/adsync/internal/hierarchy"
	"github.com/ajitpratap0/adsync/pkg/catalog"
	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/googleads"
	jsonpkg "github.com/ajitpratap0/adsync/pkg/json"
	"github.com/ajitpratap0/adsync/pkg/metrics"
	"github.com/ajitpratap0/adsync/pkg/state"
	"github.com/ajitpratap0/adsync/pkg/streams"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeResolver struct {
	ids   []string
	err   error
	roots []string
}

func (f *fakeResolver) Resolve(_ context.Context, root string) (*hierarchy.Result, error) {
	f.roots = append(f.roots, root)
	if f.err != nil {
		return nil, f.err
	}
	return &hierarchy.Result{CustomerIDs: f.ids}, nil
}

type nopSearcher struct{ login string }

func (nopSearcher) Search(context.Context, string, string) ([]googleads.Row, error) {
	return nil, nil
}

// recorder captures emitted messages, checkpoint saves and stream calls in order
type recorder struct {
	events []string
	saves  []string
}

func (r *recorder) WriteSchema(stream string, _ jsonpkg.RawMessage, keys, bookmarks []string) error {
	r.events = append(r.events, fmt.Sprintf("SCHEMA %s keys=%v bookmarks=%v", stream, keys, bookmarks))
	return nil
}

func (r *recorder) WriteRecord(stream string, _ interface{}) error {
	r.events = append(r.events, "RECORD "+stream)
	return nil
}

func (r *recorder) Save(_ context.Context, st *state.State) error {
	if st.CurrentlySyncing == nil {
		r.saves = append(r.saves, "")
		return nil
	}
	stream, customer := st.Resume()
	r.saves = append(r.saves, stream+"/"+customer)
	return nil
}

func (r *recorder) syncs() []string {
	var out []string
	for _, e := range r.events {
		if strings.HasPrefix(e, "SYNC ") {
			out = append(out, strings.TrimPrefix(e, "SYNC "))
		}
	}
	return out
}

// recordingStream logs each call and fails on the pair named by failOn
func recordingStream(rec *recorder, failOn string) streams.Stream {
	return streams.StreamFunc(func(_ context.Context, req streams.Request) error {
		pair := req.Entry.TapStreamID + "/" + req.Target.CustomerID
		rec.events = append(rec.events, "SYNC "+pair)
		if pair == failOn {
			return errors.New(errors.ErrorTypeQuery, "search rejected")
		}
		return nil
	})
}

type incrementalStream struct {
	streams.StreamFunc
}

func (incrementalStream) ReplicationKeyFor(*catalog.Entry) string { return "segments.date" }

func testCatalog(selected ...string) *catalog.Catalog {
	c := &catalog.Catalog{}
	for _, id := range selected {
		c.Streams = append(c.Streams, &catalog.Entry{
			TapStreamID: id,
			Stream:      id,
			Metadata: []catalog.Metadata{{
				Breadcrumb: []string{},
				Metadata: map[string]interface{}{
					"selected":             true,
					"table-key-properties": []interface{}{"id"},
				},
			}},
		})
	}
	c.Streams = append(c.Streams, &catalog.Entry{TapStreamID: "unselected", Stream: "unselected"})
	return c
}

func testRegistry(rec *recorder, failOn string, ids ...string) *streams.Registry {
	r := streams.NewRegistry()
	for _, id := range ids {
		r.Register(id, recordingStream(rec, failOn))
	}
	return r
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, resolver Resolver, registry *streams.Registry, rec *recorder, m *metrics.SyncMetrics) *Orchestrator {
	clients := func(login string) streams.Searcher { return nopSearcher{login: login} }
	return New(cfg, resolver, clients, registry, rec,
		WithStateSink(rec),
		WithLogger(zaptest.NewLogger(t)),
		WithMetrics(m))
}

func allowListConfig(ids ...string) *config.Config {
	cfg := config.NewConfig()
	cfg.AccountIDs = ids
	return cfg
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	rec := &recorder{}
	m := metrics.NewUnregistered()
	cfg := allowListConfig("111", "222", "333")
	resolver := &fakeResolver{ids: []string{"333", "111", "222"}}
	registry := testRegistry(rec, "", "account", "campaign", "keyword")

	st := state.New()
	st.SetCurrentlySyncing("campaign", "222")

	o := newTestOrchestrator(t, cfg, resolver, registry, rec, m)
	require.NoError(t, o.Run(context.Background(), testCatalog("keyword", "account", "campaign"), st))

	assert.Equal(t, []string{
		"SCHEMA campaign keys=[id] bookmarks=[]",
		"SYNC campaign/222", "SYNC campaign/333", "SYNC campaign/111",
		"SCHEMA keyword keys=[id] bookmarks=[]",
		"SYNC keyword/222", "SYNC keyword/333", "SYNC keyword/111",
		"SCHEMA account keys=[id] bookmarks=[]",
		"SYNC account/222", "SYNC account/333", "SYNC account/111",
	}, rec.events)

	assert.Equal(t, "campaign/222", rec.saves[0])
	assert.Equal(t, "", rec.saves[len(rec.saves)-1])
	assert.Len(t, rec.saves, 10)
	assert.Nil(t, st.CurrentlySyncing)

	assert.Equal(t, 10.0, testutil.ToFloat64(m.CheckpointWrites))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.StreamSyncs.WithLabelValues("campaign", metrics.OutcomeSuccess)))
}

func TestRunWithoutCheckpointUsesSortedOrder(t *testing.T) {
	rec := &recorder{}
	cfg := config.NewConfig()
	cfg.ManagerAccountID = "999"
	resolver := &fakeResolver{ids: []string{"20", "100", "3"}}
	registry := testRegistry(rec, "", "b", "a")

	var logins []string
	clients := func(login string) streams.Searcher {
		logins = append(logins, login)
		return nopSearcher{login: login}
	}
	o := New(cfg, resolver, clients, registry, rec, WithStateSink(rec))

	st := state.New()
	require.NoError(t, o.Run(context.Background(), testCatalog("b", "a"), st))

	// customer IDs sort as strings
	assert.Equal(t, []string{"a/100", "a/20", "a/3", "b/100", "b/20", "b/3"}, rec.syncs())
	assert.Equal(t, []string{"999"}, resolver.roots)
	assert.Len(t, logins, 6)
	for _, login := range logins {
		assert.Equal(t, "999", login)
	}
}

func TestRunFailureLeavesCheckpointAtFailedPair(t *testing.T) {
	rec := &recorder{}
	m := metrics.NewUnregistered()
	cfg := allowListConfig("111", "222", "333")
	resolver := &fakeResolver{ids: []string{"111", "222", "333"}}
	registry := testRegistry(rec, "keyword/333", "campaign", "keyword")

	st := state.New()
	o := newTestOrchestrator(t, cfg, resolver, registry, rec, m)
	err := o.Run(context.Background(), testCatalog("campaign", "keyword"), st)
	require.Error(t, err)

	assert.True(t, errors.IsType(err, errors.ErrorTypeSync))
	assert.Equal(t, "keyword", errors.DetailsOf(err)["stream"])
	assert.Equal(t, "333", errors.DetailsOf(err)["customer_id"])
	assert.Contains(t, err.Error(), "search rejected")

	assert.Equal(t, "keyword/333", rec.saves[len(rec.saves)-1])
	stream, customer := st.Resume()
	assert.Equal(t, "keyword", stream)
	assert.Equal(t, "333", customer)
	assert.Equal(t, []string{"campaign/111", "campaign/222", "campaign/333", "keyword/111", "keyword/222", "keyword/333"}, rec.syncs())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamSyncs.WithLabelValues("keyword", metrics.OutcomeFailure)))

	// the next run starts at the failed pair
	rec2 := &recorder{}
	o2 := newTestOrchestrator(t, cfg, resolver, testRegistry(rec2, "", "campaign", "keyword"), rec2, metrics.NewUnregistered())
	require.NoError(t, o2.Run(context.Background(), testCatalog("campaign", "keyword"), st))
	assert.Equal(t, []string{"keyword/333", "keyword/111", "keyword/222", "campaign/333", "campaign/111", "campaign/222"}, rec2.syncs())
}

func TestRunMissingStreamFailsBeforeEmission(t *testing.T) {
	rec := &recorder{}
	cfg := allowListConfig("111")
	resolver := &fakeResolver{ids: []string{"111"}}
	registry := testRegistry(rec, "", "campaign")

	o := newTestOrchestrator(t, cfg, resolver, registry, rec, metrics.NewUnregistered())
	err := o.Run(context.Background(), testCatalog("campaign", "mystery"), state.New())
	require.Error(t, err)

	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Empty(t, rec.events)
	assert.Empty(t, rec.saves)
}

func TestRunResolverFailure(t *testing.T) {
	rec := &recorder{}
	resolver := &fakeResolver{err: errors.New(errors.ErrorTypeAuthentication, "bad token")}
	o := newTestOrchestrator(t, config.NewConfig(), resolver, testRegistry(rec, "", "campaign"), rec, metrics.NewUnregistered())

	err := o.Run(context.Background(), testCatalog("campaign"), state.New())
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.Empty(t, rec.events)
}

func TestRunResumeKeysNoLongerPresent(t *testing.T) {
	rec := &recorder{}
	cfg := allowListConfig("111", "333", "444")
	resolver := &fakeResolver{ids: []string{"111", "333", "444"}}
	registry := testRegistry(rec, "", "ad", "campaign")

	st := state.New()
	st.SetCurrentlySyncing("budget", "222")

	o := newTestOrchestrator(t, cfg, resolver, registry, rec, metrics.NewUnregistered())
	require.NoError(t, o.Run(context.Background(), testCatalog("ad", "campaign"), st))

	assert.Equal(t, []string{
		"campaign/333", "campaign/444", "campaign/111",
		"ad/333", "ad/444", "ad/111",
	}, rec.syncs())
}

func TestRunSchemaCarriesBookmarkProperties(t *testing.T) {
	rec := &recorder{}
	registry := streams.NewRegistry()
	registry.Register("campaign_performance_report", incrementalStream{
		StreamFunc: func(context.Context, streams.Request) error { return nil },
	})

	o := newTestOrchestrator(t, allowListConfig(), &fakeResolver{}, registry, rec, metrics.NewUnregistered())
	require.NoError(t, o.Run(context.Background(), testCatalog("campaign_performance_report"), state.New()))

	assert.Equal(t, []string{"SCHEMA campaign_performance_report keys=[id] bookmarks=[segments.date]"}, rec.events)
	assert.Equal(t, []string{""}, rec.saves)
}

func TestTargetsAllowListRules(t *testing.T) {
	tests := []struct {
		name     string
		root     string
		allow    []string
		resolved []string
		want     []SyncTarget
	}{
		{
			name:     "no root filters by allow-list",
			allow:    []string{"222", "999"},
			resolved: []string{"333", "222", "111"},
			want:     []SyncTarget{{CustomerID: "222"}},
		},
		{
			name:     "no root and no allow-list yields nothing",
			resolved: []string{"333", "222"},
			want:     []SyncTarget{},
		},
		{
			name:     "root without allow-list passes everything",
			root:     "900",
			resolved: []string{"333", "222", "111"},
			want: []SyncTarget{
				{LoginCustomerID: "900", CustomerID: "111"},
				{LoginCustomerID: "900", CustomerID: "222"},
				{LoginCustomerID: "900", CustomerID: "333"},
			},
		},
		{
			name:     "root with allow-list filters",
			root:     "900",
			allow:    []string{"111"},
			resolved: []string{"333", "222", "111"},
			want:     []SyncTarget{{LoginCustomerID: "900", CustomerID: "111"}},
		},
		{
			name:     "duplicates collapse",
			root:     "900",
			resolved: []string{"222", "111", "222"},
			want: []SyncTarget{
				{LoginCustomerID: "900", CustomerID: "111"},
				{LoginCustomerID: "900", CustomerID: "222"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewConfig()
			cfg.ManagerAccountID = tt.root
			cfg.AccountIDs = tt.allow
			resolver := &fakeResolver{ids: tt.resolved}

			o := New(cfg, resolver, nil, streams.NewRegistry(), &recorder{})
			targets, result, err := o.Targets(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tt.want, targets)
			assert.Equal(t, tt.resolved, result.CustomerIDs)
			assert.Equal(t, []string{tt.root}, resolver.roots)
		})
	}
}
