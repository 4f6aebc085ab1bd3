package service

import (
	"context"
	"sort"
	"time"

	"github.com/ip-sentry/backend/internal/config"
	"github.com/ip-sentry/backend/internal/models"
)

// Suspicious factor vocabulary, emitted in this order.
const (
	FactorVeryHighRate   = "Very high request rate"
	FactorHighRate       = "High request rate"
	FactorVeryHighErrors = "Very high error rate"
	FactorHighErrors     = "High error rate"
	FactorFailedAuth     = "Multiple failed auth attempts"
	FactorScanning       = "Scanning behavior (many paths)"
	FactorProbing        = "High 404 rate (probing)"
)

// DetectionOverrides is a partial threshold override, merged field-wise onto
// the active configuration.
type DetectionOverrides struct {
	HighRequestRate     *float64 `json:"high_request_rate,omitempty"`
	VeryHighRequestRate *float64 `json:"very_high_request_rate,omitempty"`
	HighErrorRate       *float64 `json:"high_error_rate,omitempty"`
	VeryHighErrorRate   *float64 `json:"very_high_error_rate,omitempty"`
	FailedAuthThreshold *int64   `json:"failed_auth_threshold,omitempty"`
	TimeWindowMinutes   *int     `json:"time_window_minutes,omitempty"`
}

// DetectOptions selects the analysis window and filter for one detection run.
type DetectOptions struct {
	Config       *DetectionOverrides
	StartDate    *int64 // UTC milliseconds, inclusive
	EndDate      *int64 // UTC milliseconds, inclusive
	MinRiskScore *int
}

// ipStatistics are the per-IP aggregates risk scoring runs on.
type ipStatistics struct {
	TotalRequests   int64
	SuccessCount    int64
	ErrorCount      int64
	ErrorRate       float64 // percent
	FailedAuthCount int64
	UniquePaths     int64
	StatusCodes     map[int]int64
}

// DetectionService turns raw access records into a ranked list of suspicious
// IPs. It is a pure function over the store snapshot: nothing it derives is
// persisted or cached.
type DetectionService struct {
	store *AccessLogService
	base  config.DetectionConfig
}

// NewDetectionService creates the engine on the global connection with the
// process-wide thresholds.
func NewDetectionService() *DetectionService {
	base := config.DefaultDetection()
	if c := config.Loaded(); c != nil {
		base = c.Detection
	}
	return &DetectionService{store: NewAccessLogService(), base: base}
}

// DetectSuspiciousIPs scores every IP seen inside the window and returns the
// ones at or above the minimum risk score, sorted by risk descending
// (last-request time descending on ties).
func (s *DetectionService) DetectSuspiciousIPs(ctx context.Context, opts DetectOptions) ([]models.SuspiciousIP, error) {
	cfg := s.base
	mergeOverrides(&cfg, opts.Config)

	minRisk := cfg.MinRiskScore
	if opts.MinRiskScore != nil {
		minRisk = *opts.MinRiskScore
	}

	end := time.Now().UTC().UnixMilli()
	if opts.EndDate != nil {
		end = *opts.EndDate
	}
	start := end - int64(cfg.TimeWindowMinutes)*60_000
	if opts.StartDate != nil {
		start = *opts.StartDate
	}
	windowMinutes := float64(end-start) / 60_000.0

	aggregates, err := s.store.AggregateByIP(ctx, start, end)
	if err != nil {
		return nil, err
	}

	results := make([]models.SuspiciousIP, 0, len(aggregates))
	for _, agg := range aggregates {
		requestsPerMinute := 0.0
		if windowMinutes > 0 {
			requestsPerMinute = float64(agg.Count) / windowMinutes
		}

		records, err := s.store.ListIPRecords(ctx, agg.IPAddress, start, end)
		if err != nil {
			return nil, err
		}
		stats := computeIPStatistics(records)

		score := scoreRisk(cfg, stats)
		if score < minRisk {
			continue
		}

		factors := suspiciousFactors(cfg, stats)
		results = append(results, models.SuspiciousIP{
			IPAddress:         agg.IPAddress,
			RiskScore:         score,
			RequestCount:      agg.Count,
			RequestsPerMinute: requestsPerMinute,
			ErrorRate:         stats.ErrorRate,
			FailedAuthCount:   stats.FailedAuthCount,
			SuspiciousFactors: factors,
			LastRequestAt:     agg.MaxCreatedAt,
			Recommendation:    recommendationFor(score, factors),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RiskScore != results[j].RiskScore {
			return results[i].RiskScore > results[j].RiskScore
		}
		return results[i].LastRequestAt > results[j].LastRequestAt
	})

	return results, nil
}

func mergeOverrides(cfg *config.DetectionConfig, o *DetectionOverrides) {
	if o == nil {
		return
	}
	if o.HighRequestRate != nil {
		cfg.HighRequestRate = *o.HighRequestRate
	}
	if o.VeryHighRequestRate != nil {
		cfg.VeryHighRequestRate = *o.VeryHighRequestRate
	}
	if o.HighErrorRate != nil {
		cfg.HighErrorRate = *o.HighErrorRate
	}
	if o.VeryHighErrorRate != nil {
		cfg.VeryHighErrorRate = *o.VeryHighErrorRate
	}
	if o.FailedAuthThreshold != nil {
		cfg.FailedAuthThreshold = *o.FailedAuthThreshold
	}
	if o.TimeWindowMinutes != nil {
		cfg.TimeWindowMinutes = *o.TimeWindowMinutes
	}
}

func computeIPStatistics(records []IPRecord) ipStatistics {
	stats := ipStatistics{StatusCodes: map[int]int64{}}
	paths := map[string]struct{}{}

	for _, r := range records {
		stats.TotalRequests++
		if r.StatusCode != nil {
			code := *r.StatusCode
			if code >= 200 && code < 400 {
				stats.SuccessCount++
			}
			if code >= 400 {
				stats.ErrorCount++
			}
			if code == 401 || code == 403 {
				stats.FailedAuthCount++
			}
			stats.StatusCodes[code]++
		}
		if r.Path != "" {
			paths[r.Path] = struct{}{}
		}
	}

	stats.UniquePaths = int64(len(paths))
	if stats.TotalRequests > 0 {
		stats.ErrorRate = float64(stats.ErrorCount) / float64(stats.TotalRequests) * 100
	}
	return stats
}

// scoringRPM is the request rate the score bands are evaluated against.
// The divisor is the configured window length, not the actual window width
// of the call; the reported requests_per_minute uses the real width.
func scoringRPM(cfg config.DetectionConfig, stats ipStatistics) float64 {
	if cfg.TimeWindowMinutes <= 0 {
		return 0
	}
	return float64(stats.TotalRequests) / float64(cfg.TimeWindowMinutes)
}

func scoreRisk(cfg config.DetectionConfig, stats ipStatistics) int {
	score := 0

	rpm := scoringRPM(cfg, stats)
	switch {
	case rpm >= cfg.VeryHighRequestRate:
		score += 40
	case rpm >= cfg.HighRequestRate:
		score += 25
	case rpm >= 0.5*cfg.HighRequestRate:
		score += 10
	}

	switch {
	case stats.ErrorRate >= cfg.VeryHighErrorRate:
		score += 30
	case stats.ErrorRate >= cfg.HighErrorRate:
		score += 20
	case stats.ErrorRate >= 0.5*cfg.HighErrorRate:
		score += 10
	}

	switch {
	case stats.FailedAuthCount >= 2*cfg.FailedAuthThreshold:
		score += 20
	case stats.FailedAuthCount >= cfg.FailedAuthThreshold:
		score += 15
	case stats.FailedAuthCount > 0:
		score += 5
	}

	if stats.UniquePaths > 20 || float64(stats.StatusCodes[404]) > 0.5*float64(stats.TotalRequests) {
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}

func suspiciousFactors(cfg config.DetectionConfig, stats ipStatistics) []string {
	factors := []string{}

	rpm := scoringRPM(cfg, stats)
	if rpm >= cfg.VeryHighRequestRate {
		factors = append(factors, FactorVeryHighRate)
	} else if rpm >= cfg.HighRequestRate {
		factors = append(factors, FactorHighRate)
	}

	if stats.ErrorRate >= cfg.VeryHighErrorRate {
		factors = append(factors, FactorVeryHighErrors)
	} else if stats.ErrorRate >= cfg.HighErrorRate {
		factors = append(factors, FactorHighErrors)
	}

	if stats.FailedAuthCount >= cfg.FailedAuthThreshold {
		factors = append(factors, FactorFailedAuth)
	}

	if stats.UniquePaths > 20 {
		factors = append(factors, FactorScanning)
	}
	if float64(stats.StatusCodes[404]) > 0.5*float64(stats.TotalRequests) {
		factors = append(factors, FactorProbing)
	}

	return factors
}

func recommendationFor(score int, factors []string) string {
	if score >= 70 {
		return models.RecommendBan
	}
	for _, f := range factors {
		if f == FactorVeryHighRate || f == FactorFailedAuth {
			return models.RecommendBan
		}
	}
	if score >= 50 {
		return models.RecommendMonitor
	}
	return models.RecommendSafe
}
