package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	CodesIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deviceauth_codes_issued_total",
		Help: "Total number of device authorization requests issued.",
	})
	PollsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deviceauth_polls_total",
		Help: "Total number of token polls, labeled by result.",
	}, []string{"result"})
	ApprovalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deviceauth_approvals_total",
		Help: "Total number of approval submissions, labeled by decision.",
	}, []string{"decision"})
	CredentialsIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deviceauth_credentials_issued_total",
		Help: "Total number of credentials minted.",
	})
	SweepExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deviceauth_sweep_expired_total",
		Help: "Total number of records marked expired by the sweeper.",
	})
	SweepPurgedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deviceauth_sweep_purged_total",
		Help: "Total number of records purged by the sweeper.",
	})
)

// Register registers the custom metrics with the given registerer.
// It should be called once at application startup.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range []prometheus.Collector{
		CodesIssuedTotal,
		PollsTotal,
		ApprovalsTotal,
		CredentialsIssuedTotal,
		SweepExpiredTotal,
		SweepPurgedTotal,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric")
		}
	}
}
