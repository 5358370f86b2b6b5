package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/tapestrydocs/asset-engine/internal/version"
	"github.com/tapestrydocs/asset-engine/internal/xerrors"
)

// PipelineMetrics instruments one build run. The build is a batch job, so
// nothing scrapes it live; call Push at the end to hand the run's final
// state to a pushgateway.
type PipelineMetrics struct {
	reg *prometheus.Registry

	buildInfo     *prometheus.GaugeVec
	stageDuration *prometheus.HistogramVec

	assetsDiscovered prometheus.Gauge
	assetsValid      prometheus.Gauge
	assetsInvalid    prometheus.Gauge
	assetsProcessed  prometheus.Gauge
	assetsFailed     prometheus.Gauge
	derivatives      prometheus.Gauge

	mirrorUploaded prometheus.Gauge
	mirrorSkipped  prometheus.Gauge

	buildSuccess prometheus.Gauge
	buildTs      prometheus.Gauge
}

func NewPipeline() *PipelineMetrics {
	reg := prometheus.NewRegistry()

	m := &PipelineMetrics{
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_date", "vcs_dirty", "go_version"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asset_pipeline_stage_duration_seconds",
			Help:    "Wall time per pipeline stage",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		assetsDiscovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asset_pipeline_discovered",
			Help: "Assets found by the discovery walk",
		}),
		assetsValid: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asset_pipeline_valid",
			Help: "Assets that passed security validation",
		}),
		assetsInvalid: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asset_pipeline_invalid",
			Help: "Assets rejected by security validation",
		}),
		assetsProcessed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asset_pipeline_processed",
			Help: "Assets hashed and recorded in the manifest",
		}),
		assetsFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asset_pipeline_failed",
			Help: "Assets that failed processing",
		}),
		derivatives: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asset_pipeline_derivatives",
			Help: "Image derivatives generated this run",
		}),
		mirrorUploaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asset_pipeline_mirror_uploaded",
			Help: "Files uploaded to the S3 mirror this run",
		}),
		mirrorSkipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asset_pipeline_mirror_skipped",
			Help: "Files already present in the S3 mirror",
		}),
		buildSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asset_pipeline_success",
			Help: "Whether the run completed without fatal errors (1) or not (0)",
		}),
		buildTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asset_pipeline_last_run_timestamp_seconds",
			Help: "Unix timestamp of the run's completion",
		}),
	}
	reg.MustRegister(
		m.buildInfo,
		m.stageDuration,
		m.assetsDiscovered,
		m.assetsValid,
		m.assetsInvalid,
		m.assetsProcessed,
		m.assetsFailed,
		m.derivatives,
		m.mirrorUploaded,
		m.mirrorSkipped,
		m.buildSuccess,
		m.buildTs,
	)
	m.reg = reg
	return m
}

func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *PipelineMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	m.buildInfo.With(buildInfoLabels(app, component, vi)).Set(1)
}

func (m *PipelineMetrics) ObserveStage(stage string, seconds float64) {
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}

func (m *PipelineMetrics) SetDiscovered(n int) {
	m.assetsDiscovered.Set(float64(n))
}

func (m *PipelineMetrics) SetValidation(valid, invalid int) {
	m.assetsValid.Set(float64(valid))
	m.assetsInvalid.Set(float64(invalid))
}

func (m *PipelineMetrics) SetProcessed(processed, failed, derivatives int) {
	m.assetsProcessed.Set(float64(processed))
	m.assetsFailed.Set(float64(failed))
	m.derivatives.Set(float64(derivatives))
}

func (m *PipelineMetrics) SetMirror(uploaded, skipped int) {
	m.mirrorUploaded.Set(float64(uploaded))
	m.mirrorSkipped.Set(float64(skipped))
}

func (m *PipelineMetrics) FinishRun(success bool, at time.Time) {
	if success {
		m.buildSuccess.Set(1)
	} else {
		m.buildSuccess.Set(0)
	}
	m.buildTs.Set(float64(at.Unix()))
}

// Push delivers the run's metrics to a pushgateway, grouped by run so
// concurrent environments don't clobber each other.
func (m *PipelineMetrics) Push(url, job, runID string) error {
	p := push.New(url, job).Gatherer(m.reg)
	if runID != "" {
		p = p.Grouping("run_id", runID)
	}
	if err := p.Push(); err != nil {
		return xerrors.Wrapf(err, "push metrics to %s", url)
	}
	return nil
}
