package streams

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/ajitpratap0/adsync/pkg/catalog"
	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/logger"
	"go.uber.org/zap"
)

const (
	// DateReplicationKey is the bookmark field of report streams
	DateReplicationKey = "segments.date"
	// DefaultLookback bounds the first extraction of a date-keyed stream when
	// neither a bookmark nor start_date is available
	DefaultLookback = 30 * 24 * time.Hour

	// CustomerIDField is added to every record
	CustomerIDField = "customer_id"
)

// QueryStream extracts a GAQL resource. Streams with a replication key are
// incremental: they resume from the per-customer bookmark and page through
// results query_limit rows at a time ordered by the key.
type QueryStream struct {
	// Resource is the GAQL FROM clause, e.g. "campaign" or "keyword_view"
	Resource string
	// ReplicationKey applies when the catalog entry names none
	ReplicationKey string
	// DefaultFields are queried when the catalog selects no GAQL fields
	DefaultFields []string

	now func() time.Time
}

// Sync implements Stream
func (q *QueryStream) Sync(ctx context.Context, req Request) error {
	if req.Entry == nil || req.Client == nil || req.Output == nil || req.State == nil {
		return errors.New(errors.ErrorTypeInternal, "incomplete stream request")
	}

	fields := q.fields(req)
	if len(fields) == 0 {
		return errors.Newf(errors.ErrorTypeConfig, "stream %s selects no fields", req.Entry.TapStreamID)
	}

	key := q.ReplicationKeyFor(req.Entry)

	log := logger.WithContext(ctx).With(zap.String("resource", q.Resource))
	if key == "" {
		return q.syncFull(ctx, req, fields, log)
	}
	return q.syncIncremental(ctx, req, fields, key, log)
}

// ReplicationKeyFor returns the catalog replication key, falling back to the
// stream default. Empty means the stream is synced in full.
func (q *QueryStream) ReplicationKeyFor(entry *catalog.Entry) string {
	if key := entry.ReplicationKey(); key != "" {
		return key
	}
	return q.ReplicationKey
}

func (q *QueryStream) syncFull(ctx context.Context, req Request, fields []string, log *zap.Logger) error {
	records, err := q.fetch(ctx, req, BuildQuery(fields, q.Resource, KeyRange{}, 0), "")
	if err != nil {
		return err
	}
	if err := q.emit(req, records); err != nil {
		return err
	}
	log.Info("stream synced", zap.Int("records", len(records)))
	return nil
}

// syncIncremental pages through the key range query_limit rows at a time.
// The rows holding a full page's last key value may spill onto the next
// page, so that value is drained with one unbounded equality query before
// paging resumes strictly above it. Every row is emitted once per run; a
// resumed run re-reads the bookmarked value.
func (q *QueryStream) syncIncremental(ctx context.Context, req Request, fields []string, key string, log *zap.Logger) error {
	fields = withField(fields, key)

	streamID := req.Entry.TapStreamID
	customerID := req.Target.CustomerID
	lower := req.State.Bookmark(streamID, customerID)
	if lower == "" && req.Config != nil {
		lower = req.Config.StartDate
	}

	var upper string
	if key == DateReplicationKey {
		today := q.clock()().UTC()
		upper = today.Format(config.DateLayout)
		if lower == "" {
			lower = today.Add(-DefaultLookback).Format(config.DateLayout)
		}
	}

	total := 0
	window := KeyRange{Key: key, From: lower, To: upper}
	for {
		page, err := q.fetch(ctx, req, BuildQuery(fields, q.Resource, window, req.Limit), key)
		if err != nil {
			return err
		}

		if req.Limit <= 0 || len(page) < req.Limit {
			if err := q.emitAndBookmark(ctx, req, key, page); err != nil {
				return err
			}
			total += len(page)
			break
		}

		last := maxKey(page)
		if last == "" {
			log.Warn("rows carry no replication key value; cannot page further",
				zap.String("replication_key", key),
				zap.Int("limit", req.Limit))
			if err := q.emitAndBookmark(ctx, req, key, page); err != nil {
				return err
			}
			total += len(page)
			break
		}

		var head []keyedRecord
		for _, rec := range page {
			if compareKeys(rec.key, last) < 0 {
				head = append(head, rec)
			}
		}
		if err := q.emitAndBookmark(ctx, req, key, head); err != nil {
			return err
		}

		tail, err := q.fetch(ctx, req, BuildQuery(fields, q.Resource, KeyRange{Key: key, Equal: last}, 0), key)
		if err != nil {
			return err
		}
		if err := q.emitAndBookmark(ctx, req, key, tail); err != nil {
			return err
		}
		total += len(head) + len(tail)

		window = KeyRange{Key: key, From: last, After: true, To: upper}
	}

	log.Info("stream synced",
		zap.Int("records", total),
		zap.String("bookmark", req.State.Bookmark(streamID, customerID)))
	return nil
}

// keyedRecord is a flattened row with its replication key value ("" when absent)
type keyedRecord struct {
	record map[string]interface{}
	key    string
}

// fetch runs one query and flattens its rows
func (q *QueryStream) fetch(ctx context.Context, req Request, query, key string) ([]keyedRecord, error) {
	rows, err := req.Client.Search(ctx, req.Target.CustomerID, query)
	if err != nil {
		return nil, err
	}

	records := make([]keyedRecord, 0, len(rows))
	for _, row := range rows {
		nested, err := row.Map()
		if err != nil {
			return nil, err
		}
		rec := keyedRecord{record: Flatten(nested)}
		rec.record[CustomerIDField] = req.Target.CustomerID
		if key != "" {
			if v, ok := rec.record[key]; ok && v != nil {
				rec.key = fmt.Sprint(v)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func (q *QueryStream) emit(req Request, records []keyedRecord) error {
	for _, rec := range records {
		if err := req.Output.WriteRecord(req.Entry.Stream, rec.record); err != nil {
			return err
		}
	}
	if req.Metrics != nil {
		req.Metrics.RecordsEmitted.WithLabelValues(req.Entry.TapStreamID).Add(float64(len(records)))
	}
	return nil
}

// emitAndBookmark emits records, then moves the bookmark to their largest
// key value when it advances and persists the state
func (q *QueryStream) emitAndBookmark(ctx context.Context, req Request, key string, records []keyedRecord) error {
	if err := q.emit(req, records); err != nil {
		return err
	}

	streamID, customerID := req.Entry.TapStreamID, req.Target.CustomerID
	value := maxKey(records)
	current := req.State.Bookmark(streamID, customerID)
	if value == "" || (current != "" && compareKeys(value, current) <= 0) {
		return nil
	}

	req.State.SetBookmark(streamID, customerID, value)
	if req.Sink == nil {
		return nil
	}
	if err := req.Sink.Save(ctx, req.State); err != nil {
		return err
	}
	if req.Metrics != nil {
		req.Metrics.CheckpointWrites.Inc()
	}
	return nil
}

func maxKey(records []keyedRecord) string {
	var out string
	for _, rec := range records {
		if rec.key != "" && (out == "" || compareKeys(rec.key, out) > 0) {
			out = rec.key
		}
	}
	return out
}

// fields returns the selected GAQL fields of the entry, or the defaults
func (q *QueryStream) fields(req Request) []string {
	var fields []string
	for _, f := range req.Entry.SelectedFields() {
		if strings.Contains(f, ".") {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		fields = append(fields, q.DefaultFields...)
	}
	return fields
}

func (q *QueryStream) clock() func() time.Time {
	if q.now != nil {
		return q.now
	}
	return time.Now
}

// KeyRange filters and orders a query on a replication key. A zero
// KeyRange selects the whole resource unordered.
type KeyRange struct {
	Key string
	// From is the lower bound, exclusive when After is set
	From  string
	After bool
	// To is the inclusive upper bound
	To string
	// Equal selects a single key value and overrides From and To
	Equal string
}

// BuildQuery renders a GAQL query. With a key the rows are filtered to the
// range and ordered by the key. limit <= 0 omits the LIMIT clause.
func BuildQuery(fields []string, resource string, r KeyRange, limit int) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(fields, ", "))
	b.WriteString(" FROM ")
	b.WriteString(resource)

	if r.Key != "" {
		var conds []string
		switch {
		case r.Equal != "":
			conds = append(conds, fmt.Sprintf("%s = %s", r.Key, literal(r.Equal)))
		default:
			if r.From != "" {
				op := ">="
				if r.After {
					op = ">"
				}
				conds = append(conds, fmt.Sprintf("%s %s %s", r.Key, op, literal(r.From)))
			}
			if r.To != "" {
				conds = append(conds, fmt.Sprintf("%s <= %s", r.Key, literal(r.To)))
			}
		}
		if len(conds) > 0 {
			b.WriteString(" WHERE ")
			b.WriteString(strings.Join(conds, " AND "))
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(r.Key)
	}

	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	return b.String()
}

var numericLiteral = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// literal renders a key value as a GAQL literal: numbers bare, anything
// else single-quoted
func literal(v string) string {
	if numericLiteral.MatchString(v) {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", `\'`) + "'"
}

// compareKeys orders replication key values, numerically when both are
// numbers and lexically otherwise (dates and date-times sort lexically)
func compareKeys(a, b string) int {
	if numericLiteral.MatchString(a) && numericLiteral.MatchString(b) {
		x, _, errX := big.ParseFloat(a, 10, 128, big.ToNearestEven)
		y, _, errY := big.ParseFloat(b, 10, 128, big.ToNearestEven)
		if errX == nil && errY == nil {
			return x.Cmp(y)
		}
	}
	return strings.Compare(a, b)
}

func withField(fields []string, field string) []string {
	for _, f := range fields {
		if f == field {
			return fields
		}
	}
	return append(append([]string(nil), fields...), field)
}
