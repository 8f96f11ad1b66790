package streams

// coreStreams are full-table resources keyed by tap_stream_id
var coreStreams = map[string]*QueryStream{
	"accessible_bidding_strategy": {
		Resource:      "accessible_bidding_strategy",
		DefaultFields: []string{"accessible_bidding_strategy.id", "accessible_bidding_strategy.name", "accessible_bidding_strategy.type"},
	},
	"account": {
		Resource:      "customer",
		DefaultFields: []string{"customer.id", "customer.descriptive_name", "customer.currency_code", "customer.time_zone", "customer.manager", "customer.status"},
	},
	"ad_group": {
		Resource:      "ad_group",
		DefaultFields: []string{"ad_group.id", "ad_group.name", "ad_group.status", "ad_group.campaign"},
	},
	"ad_group_ad": {
		Resource:      "ad_group_ad",
		DefaultFields: []string{"ad_group_ad.ad.id", "ad_group_ad.ad_group", "ad_group_ad.status"},
	},
	"ad_group_criterion": {
		Resource:      "ad_group_criterion",
		DefaultFields: []string{"ad_group_criterion.criterion_id", "ad_group_criterion.ad_group", "ad_group_criterion.type", "ad_group_criterion.status"},
	},
	"bidding_strategy": {
		Resource:      "bidding_strategy",
		DefaultFields: []string{"bidding_strategy.id", "bidding_strategy.name", "bidding_strategy.type"},
	},
	"call_view": {
		Resource:      "call_view",
		DefaultFields: []string{"call_view.resource_name", "call_view.call_duration_seconds", "call_view.start_call_date_time"},
	},
	"campaign": {
		Resource:      "campaign",
		DefaultFields: []string{"campaign.id", "campaign.name", "campaign.status", "campaign.advertising_channel_type"},
	},
	"campaign_budget": {
		Resource:      "campaign_budget",
		DefaultFields: []string{"campaign_budget.id", "campaign_budget.name", "campaign_budget.amount_micros"},
	},
	"campaign_criterion": {
		Resource:      "campaign_criterion",
		DefaultFields: []string{"campaign_criterion.criterion_id", "campaign_criterion.campaign", "campaign_criterion.type"},
	},
	"campaign_label": {
		Resource:      "campaign_label",
		DefaultFields: []string{"campaign_label.resource_name", "campaign_label.campaign", "campaign_label.label"},
	},
	"label": {
		Resource:      "label",
		DefaultFields: []string{"label.id", "label.name", "label.status"},
	},
	"user_list": {
		Resource:      "user_list",
		DefaultFields: []string{"user_list.id", "user_list.name", "user_list.type"},
	},
}

var reportMetrics = []string{"metrics.impressions", "metrics.clicks", "metrics.cost_micros", "metrics.conversions"}

// reportStreams are incremental on segments.date
var reportStreams = map[string]*QueryStream{
	"account_performance_report": {
		Resource:      "customer",
		DefaultFields: append([]string{"customer.id"}, reportMetrics...),
	},
	"ad_group_audience_performance_report": {
		Resource:      "ad_group_audience_view",
		DefaultFields: append([]string{"ad_group.id", "ad_group_criterion.criterion_id"}, reportMetrics...),
	},
	"ad_group_performance_report": {
		Resource:      "ad_group",
		DefaultFields: append([]string{"ad_group.id", "campaign.id"}, reportMetrics...),
	},
	"campaign_audience_performance_report": {
		Resource:      "campaign_audience_view",
		DefaultFields: append([]string{"campaign.id", "campaign_criterion.criterion_id"}, reportMetrics...),
	},
	"campaign_performance_report": {
		Resource:      "campaign",
		DefaultFields: append([]string{"campaign.id", "campaign.name"}, reportMetrics...),
	},
	"keywords_performance_report": {
		Resource:      "keyword_view",
		DefaultFields: append([]string{"ad_group.id", "ad_group_criterion.criterion_id", "ad_group_criterion.keyword.text"}, reportMetrics...),
	},
}

// DefaultRegistry registers the built-in core resource and report streams
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for id, s := range coreStreams {
		stream := *s
		r.Register(id, &stream)
	}
	for id, s := range reportStreams {
		stream := *s
		stream.ReplicationKey = DateReplicationKey
		r.Register(id, &stream)
	}
	return r
}
