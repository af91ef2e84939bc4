package drift

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	weeklyUsefulRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supportloop_weekly_useful_rate",
		Help: "Usefulness rate of the most recent sampled week.",
	})
	autoTrainingRecommended = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supportloop_auto_training_recommended",
		Help: "1 when the last weekly check found a performance drop.",
	})
	confidenceDrift = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supportloop_confidence_drift",
		Help: "Latest daily average confidence minus the window baseline.",
	})
	confidenceAlert = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supportloop_confidence_drift_alert",
		Help: "1 when any day in the window drifts past the alert threshold.",
	})
	armSuccessRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "supportloop_ab_success_rate",
		Help: "Usefulness rate per experiment arm.",
	}, []string{"role"})
	armSamples = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "supportloop_ab_samples",
		Help: "Rated interactions per experiment arm.",
	}, []string{"role"})
)

func observeWeekly(r WeeklyReport) {
	for i := len(r.Weeks) - 1; i >= 0; i-- {
		if r.Weeks[i].Samples > 0 {
			weeklyUsefulRate.Set(r.Weeks[i].UsefulRate)
			break
		}
	}
	autoTrainingRecommended.Set(boolGauge(r.AutoTrainingRecommended))
}

func observeConfidence(r ConfidenceReport) {
	if n := len(r.DailyDrift); n > 0 {
		confidenceDrift.Set(r.DailyDrift[n-1].DriftFromBaseline)
	}
	confidenceAlert.Set(boolGauge(r.CurrentAlert))
}

func observeAB(r ABResult) {
	for _, arm := range []ArmStats{r.Base, r.Candidate} {
		armSuccessRate.WithLabelValues(string(arm.Role)).Set(arm.SuccessRate)
		armSamples.WithLabelValues(string(arm.Role)).Set(float64(arm.Samples))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
