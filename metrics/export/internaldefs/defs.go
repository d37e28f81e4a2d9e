package internaldefs

import (
	goAuthClient "github.com/MrEthical07/goAuthClient"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   goAuthClient.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   goAuthClient.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goAuthClient.MetricLoginSuccess, Name: "goauthclient_login_success_total", Help: "Successful logins."},
	{ID: goAuthClient.MetricLoginFailure, Name: "goauthclient_login_failure_total", Help: "Failed logins."},
	{ID: goAuthClient.MetricLoginReused, Name: "goauthclient_login_reused_total", Help: "Anonymous logins served by an existing anonymous user."},
	{ID: goAuthClient.MetricLinkSuccess, Name: "goauthclient_link_success_total", Help: "Successful identity links."},
	{ID: goAuthClient.MetricLinkFailure, Name: "goauthclient_link_failure_total", Help: "Failed identity links."},
	{ID: goAuthClient.MetricLogout, Name: "goauthclient_logout_total", Help: "Users logged out."},
	{ID: goAuthClient.MetricServerLogoutFailure, Name: "goauthclient_server_logout_failure_total", Help: "Best-effort server session deletes that failed."},
	{ID: goAuthClient.MetricUserRemoved, Name: "goauthclient_user_removed_total", Help: "Users removed from the device."},
	{ID: goAuthClient.MetricSwitch, Name: "goauthclient_switch_total", Help: "Active user switches."},
	{ID: goAuthClient.MetricRefreshSuccess, Name: "goauthclient_refresh_success_total", Help: "Successful access token refreshes."},
	{ID: goAuthClient.MetricRefreshFailure, Name: "goauthclient_refresh_failure_total", Help: "Failed access token refreshes."},
	{ID: goAuthClient.MetricRefreshCoalesced, Name: "goauthclient_refresh_coalesced_total", Help: "Callers that joined an in-flight refresh."},
	{ID: goAuthClient.MetricRefreshDiscarded, Name: "goauthclient_refresh_discarded_total", Help: "Refresh results discarded because the user changed mid-flight."},
	{ID: goAuthClient.MetricProactiveRefresh, Name: "goauthclient_proactive_refresh_total", Help: "Refreshes triggered before a request by token expiry."},
	{ID: goAuthClient.MetricRequestSuccess, Name: "goauthclient_request_success_total", Help: "Successful authenticated requests."},
	{ID: goAuthClient.MetricRequestFailure, Name: "goauthclient_request_failure_total", Help: "Failed authenticated requests."},
	{ID: goAuthClient.MetricRequestRetried, Name: "goauthclient_request_retried_total", Help: "Authenticated requests resubmitted after a refresh."},
	{ID: goAuthClient.MetricRequestFatalAuth, Name: "goauthclient_request_fatal_auth_total", Help: "Authenticated requests rejected again after a refresh."},
	{ID: goAuthClient.MetricPersistFailure, Name: "goauthclient_persist_failure_total", Help: "Session state writes that failed."},
	{ID: goAuthClient.MetricLoadFailure, Name: "goauthclient_load_failure_total", Help: "Startups that discarded persisted session state."},
	{ID: goAuthClient.MetricListenerPanic, Name: "goauthclient_listener_panic_total", Help: "Auth listener invocations that panicked."},
}

var HistogramDefs = []HistogramDef{
	{ID: goAuthClient.MetricRequestLatency, Name: "goauthclient_request_latency_seconds", Help: "Authenticated request latency including refresh and retry."},
	{ID: goAuthClient.MetricRefreshLatency, Name: "goauthclient_refresh_latency_seconds", Help: "Refresh token exchange latency."},
}

// HistogramBounds are the finite upper bounds in seconds. The engine's eighth bucket
// is +Inf.
var HistogramBounds = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// HistogramBoundSuffix names each of the eight buckets for exporters without native
// histogram bounds.
var HistogramBoundSuffix = []string{"0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "1", "inf"}

// NormalizeBuckets copies raw into a fixed eight-bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
