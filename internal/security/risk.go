package security

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"login-security/internal/models"
	"login-security/internal/util"
)

// RiskAggregator composes the component checks into one score and reason
// list. The location provider is called at most once per assessment; the
// delta and VPN checks share that single fetch.
type RiskAggregator struct {
	devices  *DeviceTrustRegistry
	location *LocationRiskEvaluator
}

func NewRiskAggregator(devices *DeviceTrustRegistry, location *LocationRiskEvaluator) *RiskAggregator {
	return &RiskAggregator{
		devices:  devices,
		location: location,
	}
}

// Assess scores a login attempt. A bypass policy short-circuits with a zero
// assessment and performs no lookups. The only error returned is a
// compliance ban, which never converts into a numeric score.
func (ra *RiskAggregator) Assess(ctx context.Context, userID string, sc models.SecurityContext, policy models.RiskPolicy) (*models.RiskAssessment, error) {
	if policy.Bypass {
		return &models.RiskAssessment{Score: 0, Reasons: []string{}}, nil
	}

	var (
		deviceScore  int
		deviceReason string
		currentLoc   *models.LocationData
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		deviceScore, deviceReason = ra.devices.CheckDevice(userID, sc.Fingerprint)
		return nil
	})
	g.Go(func() error {
		loc, err := ra.location.GetCurrentLocation(gctx, userID, sc.ClientIP)
		if err != nil {
			return err
		}
		currentLoc = loc
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	locationScore, locationReason := ra.location.CheckLocation(userID, currentLoc)
	vpnScore, vpnReason := ra.location.CheckVPN(currentLoc)
	timeScore, timeReason := ra.checkTimePattern(userID)

	assessment := &models.RiskAssessment{
		Score:    deviceScore + locationScore + vpnScore + timeScore,
		Reasons:  []string{},
		Location: currentLoc,
	}
	for _, reason := range []string{deviceReason, locationReason, vpnReason, timeReason} {
		if reason != "" {
			assessment.Reasons = append(assessment.Reasons, reason)
		}
	}

	util.Debug("Risk assessment completed",
		zap.String("user_id", userID),
		zap.Int("score", assessment.Score),
		zap.Strings("reasons", assessment.Reasons))

	return assessment, nil
}

// checkTimePattern is an extension point for login-time anomaly scoring
// (impossible travel, unusual hours). It intentionally contributes nothing
// until a scoring model is chosen.
func (ra *RiskAggregator) checkTimePattern(userID string) (int, string) {
	return 0, ""
}
