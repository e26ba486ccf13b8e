// Package metrics bündelt die Prometheus-Collector des Dienstes.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	MergedRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arxiv_hype_merged_rows_total",
			Help: "Rows staged into a merge, by target table and conflict policy.",
		},
		[]string{"table", "policy"},
	)
	IngestedMentions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arxiv_hype_ingested_mentions_total",
			Help: "Mentions written per source.",
		},
		[]string{"source"},
	)
	FetchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arxiv_hype_fetch_failed_ids_total",
			Help: "Identifiers whose fetch chunk failed.",
		},
		[]string{"provider"},
	)
	DBRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arxiv_hype_db_retries_total",
			Help: "Retried database operations after a transient error.",
		},
		[]string{"operation"},
	)
	SearchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arxiv_hype_search_requests_total",
			Help: "Similarity searches by outcome.",
		},
		[]string{"outcome"},
	)
	PipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arxiv_hype_pipeline_runs_total",
			Help: "Pipeline stage executions by outcome.",
		},
		[]string{"stage", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(MergedRows, IngestedMentions, FetchFailures, DBRetries, SearchRequests, PipelineRuns)
}
