// Package hierarchy discovers the customer accounts a run may sync.
//
// With a manager root the account tree is walked breadth-first, one
// customer_client query per manager, and every non-manager child is
// returned. Without a root every directly accessible account is probed and
// kept when it is an enabled, non-manager account.
package hierarchy

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/googleads"
	"github.com/ajitpratap0/adsync/pkg/metrics"
	"github.com/ajitpratap0/adsync/pkg/observability"
	"go.uber.org/zap"
)

// StatusEnabled is the customer status of an account that can serve ads
const StatusEnabled = "ENABLED"

// Resolution modes, used as metric labels
const (
	ModeAccessible = "accessible"
	ModeHierarchy  = "hierarchy"
)

// childrenQuery returns the queried manager (level 0) and its direct children (level 1)
const childrenQuery = `SELECT customer_client.client_customer, customer_client.level, customer_client.manager, ` +
	`customer_client.descriptive_name, customer_client.currency_code, customer_client.time_zone, ` +
	`customer_client.id, customer_client.status FROM customer_client WHERE customer_client.level <= 1`

// Platform is the subset of the Google Ads API the resolver needs
type Platform interface {
	ListAccessibleCustomers(ctx context.Context) ([]string, error)
	Search(ctx context.Context, customerID, query string) ([]googleads.Row, error)
}

// Account is a customer_client row
type Account struct {
	ID              string `json:"id"`
	ClientCustomer  string `json:"clientCustomer"`
	Level           int64  `json:"level,string"`
	Manager         bool   `json:"manager"`
	DescriptiveName string `json:"descriptiveName"`
	CurrencyCode    string `json:"currencyCode"`
	TimeZone        string `json:"timeZone"`
	Status          string `json:"status"`
}

type customerClientRow struct {
	CustomerClient Account `json:"customerClient"`
}

type customerRow struct {
	Customer struct {
		Status  string `json:"status"`
		Manager bool   `json:"manager"`
	} `json:"customer"`
}

// Graph maps each manager to its direct children, remembering the order in
// which managers were first recorded
type Graph struct {
	order    []string
	children map[string][]Account
}

func newGraph() *Graph {
	return &Graph{children: make(map[string][]Account)}
}

func (g *Graph) add(managerID string, child Account) {
	if _, ok := g.children[managerID]; !ok {
		g.order = append(g.order, managerID)
	}
	g.children[managerID] = append(g.children[managerID], child)
}

// Managers returns the managers with at least one child, in first-recorded order
func (g *Graph) Managers() []string {
	return append([]string(nil), g.order...)
}

// Children returns the recorded children of managerID in row order
func (g *Graph) Children(managerID string) []Account {
	return g.children[managerID]
}

// SkipReason explains why an accessible account was not eligible
type SkipReason string

const (
	SkipQueryFailed         SkipReason = "query_failed"
	SkipNoRows              SkipReason = "no_rows"
	SkipManager             SkipReason = "manager"
	SkipNotEnabled          SkipReason = "not_enabled"
	SkipInvalidResourceName SkipReason = "invalid_resource_name"
)

// Probe is the outcome of checking one accessible account
type Probe struct {
	ResourceName string
	CustomerID   string
	Eligible     bool
	Reason       SkipReason
	Err          error
}

// Result is the outcome of a resolution
type Result struct {
	// CustomerIDs are the eligible accounts in discovery order
	CustomerIDs []string
	// Root is the level-0 descriptor of the manager root, if one was returned
	Root *Account
	// Graph is the traversed manager adjacency (hierarchy mode only)
	Graph *Graph
	// Skipped lists ineligible accessible accounts (accessible mode only)
	Skipped []Probe
	// ManagersVisited counts customer_client queries issued
	ManagersVisited int
}

// Resolver discovers eligible accounts. It keeps no state between calls.
type Resolver struct {
	platform Platform
	logger   *zap.Logger
	metrics  *metrics.SyncMetrics
}

// NewResolver creates a resolver. m may be nil.
func NewResolver(platform Platform, logger *zap.Logger, m *metrics.SyncMetrics) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		platform: platform,
		logger:   logger.With(zap.String("component", "hierarchy")),
		metrics:  m,
	}
}

// Resolve returns the eligible customer IDs. An empty root probes every
// accessible account; otherwise the hierarchy under root is traversed.
func (r *Resolver) Resolve(ctx context.Context, root string) (result *Result, err error) {
	ctx, span := observability.StartSpan(ctx, "hierarchy.resolve")
	defer func() { span.End(err) }()

	mode := ModeHierarchy
	if root == "" {
		mode = ModeAccessible
		result, err = r.resolveAccessible(ctx)
	} else {
		span.SetAttribute("manager_account_id", root)
		result, err = r.resolveHierarchy(ctx, root)
	}
	if err != nil {
		return nil, err
	}

	span.SetAttribute("mode", mode)
	span.SetAttribute("accounts", len(result.CustomerIDs))
	if r.metrics != nil {
		r.metrics.AccountsEligible.WithLabelValues(mode).Set(float64(len(result.CustomerIDs)))
	}
	r.logger.Info("accounts resolved",
		zap.String("mode", mode),
		zap.Int("eligible", len(result.CustomerIDs)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("managers_visited", result.ManagersVisited))
	return result, nil
}

func (r *Resolver) resolveAccessible(ctx context.Context) (*Result, error) {
	names, err := r.platform.ListAccessibleCustomers(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, name := range names {
		probe := r.probe(ctx, name)
		if probe.Eligible {
			result.CustomerIDs = append(result.CustomerIDs, probe.CustomerID)
			continue
		}

		result.Skipped = append(result.Skipped, probe)
		if r.metrics != nil {
			r.metrics.AccountsSkipped.WithLabelValues(string(probe.Reason)).Inc()
		}
		fields := []zap.Field{
			zap.String("resource_name", name),
			zap.String("customer_id", probe.CustomerID),
			zap.String("reason", string(probe.Reason)),
		}
		if probe.Err != nil {
			fields = append(fields, zap.Error(probe.Err))
			r.logger.Warn("skipping accessible account", fields...)
		} else {
			r.logger.Debug("skipping accessible account", fields...)
		}
	}
	return result, nil
}

// probe checks whether one accessible account is an enabled non-manager
func (r *Resolver) probe(ctx context.Context, resourceName string) Probe {
	p := Probe{ResourceName: resourceName}

	id, err := googleads.ParseCustomerPath(resourceName)
	if err != nil {
		p.Reason, p.Err = SkipInvalidResourceName, err
		return p
	}
	p.CustomerID = id

	query := fmt.Sprintf("SELECT customer.status, customer.manager FROM customer WHERE customer.id = '%s'", id)
	rows, err := r.platform.Search(ctx, id, query)
	if err != nil {
		p.Reason, p.Err = SkipQueryFailed, err
		return p
	}
	if len(rows) == 0 {
		p.Reason = SkipNoRows
		return p
	}

	var row customerRow
	if err := rows[0].Decode(&row); err != nil {
		p.Reason, p.Err = SkipQueryFailed, err
		return p
	}

	switch {
	case row.Customer.Manager:
		p.Reason = SkipManager
	case row.Customer.Status != StatusEnabled:
		p.Reason = SkipNotEnabled
	default:
		p.Eligible = true
	}
	return p
}

func (r *Resolver) resolveHierarchy(ctx context.Context, root string) (*Result, error) {
	graph := newGraph()
	result := &Result{Graph: graph}

	queue := []string{root}
	enqueued := map[string]bool{root: true}

	for len(queue) > 0 {
		managerID := queue[0]
		queue = queue[1:]

		rows, err := r.platform.Search(ctx, managerID, childrenQuery)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to list child accounts").
				WithDetail("customer_id", managerID)
		}
		result.ManagersVisited++
		if r.metrics != nil {
			r.metrics.ManagersVisited.Inc()
		}

		for _, row := range rows {
			var decoded customerClientRow
			if err := row.Decode(&decoded); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode customer_client row").
					WithDetail("customer_id", managerID)
			}
			account := decoded.CustomerClient

			switch account.Level {
			case 0:
				if result.Root == nil {
					descriptor := account
					result.Root = &descriptor
				}
			case 1:
				graph.add(managerID, account)
				if account.Manager && !enqueued[account.ID] {
					enqueued[account.ID] = true
					queue = append(queue, account.ID)
				}
			}
		}
	}

	for _, managerID := range graph.Managers() {
		for _, child := range graph.Children(managerID) {
			if !child.Manager {
				result.CustomerIDs = append(result.CustomerIDs, child.ID)
			}
		}
	}
	return result, nil
}
