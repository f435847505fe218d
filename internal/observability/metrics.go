package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
	MMessagesConsumed        MetricKey = "messages_consumed_total"
	MOutcomesPublished       MetricKey = "outcomes_published_total"
	MOutcomesObserved        MetricKey = "outcomes_observed_total"
	MTicketsIssued           MetricKey = "tickets_issued_total"
)

// MetricSpec describes the fixed label set of a metric key. Callers must pass
// exactly these labels.
type MetricSpec struct {
	Key    MetricKey
	Help   string
	Labels []string
}

var (
	CounterSpecs = []MetricSpec{
		{MUsecaseRequests, "Total number of use case invocations.", []string{"use_case", "outcome"}},
		{MHTTPRequests, "Total number of HTTP requests served.", []string{"method", "route", "status"}},
		{MExternalRequests, "Calls made to external collaborators.", []string{"peer", "endpoint", "outcome"}},
		{MMessagesConsumed, "Inbound messages handled, by result.", []string{"topic", "result"}},
		{MOutcomesPublished, "Outcome publish attempts, by result.", []string{"topic", "status", "result"}},
		{MOutcomesObserved, "Outcomes seen by the monitor consumer.", []string{"status"}},
		{MTicketsIssued, "Tickets transitioned to issued.", []string{"place"}},
	}
	HistogramSpecs = []MetricSpec{
		{MUsecaseDuration, "Duration of use case execution in seconds.", []string{"use_case"}},
		{MHTTPRequestDuration, "Duration of HTTP requests in seconds.", []string{"method", "route", "status"}},
		{MExternalRequestDuration, "Duration of external calls in seconds.", []string{"peer", "endpoint"}},
	}
)
