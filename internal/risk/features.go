package risk

import "github.com/verdictlabs/negotiator/pkg/models"

// FeatureCount is the fixed length of the ML feature vector.
const FeatureCount = 17

// Feature vector layout. All features are normalized to [0,1] before
// scoring; the order is fixed and versioned with the model parameters.
const (
	featNumChanges = iota
	featTotalLines
	featErrorRate
	featLatency
	featQPS
	featTagCaching
	featTagDatabaseSchema
	featTagAPIContract
	featTagTraffic
	featTagPermissions
	featTagEncryption
	featTagLoadBalancing
	featTagStorage
	featDependencyCount
	featHasDBSchema
	featHasAPIContract
	featHasCaching
)

var tagFeature = map[models.RiskTag]int{
	models.TagCaching:        featTagCaching,
	models.TagDatabaseSchema: featTagDatabaseSchema,
	models.TagAPIContract:    featTagAPIContract,
	models.TagTraffic:        featTagTraffic,
	models.TagPermissions:    featTagPermissions,
	models.TagEncryption:     featTagEncryption,
	models.TagLoadBalancing:  featTagLoadBalancing,
	models.TagStorage:        featTagStorage,
}

// ExtractFeatures builds the normalized feature vector for a deployment
// context.
func ExtractFeatures(dctx *models.DeploymentContext) [FeatureCount]float64 {
	var x [FeatureCount]float64

	x[featNumChanges] = norm(float64(len(dctx.Changes)), 50)
	x[featTotalLines] = norm(float64(dctx.TotalLinesChanged()), 5000)
	x[featErrorRate] = norm(dctx.CurrentErrorRatePercent, 10)
	x[featLatency] = norm(dctx.CurrentP95LatencyMs, 2000)
	x[featQPS] = norm(dctx.CurrentQPS, 10000)
	x[featDependencyCount] = norm(float64(len(dctx.Dependencies)), 10)

	for _, change := range dctx.Changes {
		for _, tag := range change.RiskTags {
			if idx, ok := tagFeature[tag]; ok {
				x[idx] = 1
			}
		}
	}

	x[featHasDBSchema] = x[featTagDatabaseSchema]
	x[featHasAPIContract] = x[featTagAPIContract]
	x[featHasCaching] = x[featTagCaching]

	return x
}

// norm scales v by the given ceiling and clamps to [0,1].
func norm(v, ceiling float64) float64 {
	if v <= 0 {
		return 0
	}
	if v >= ceiling {
		return 1
	}
	return v / ceiling
}
