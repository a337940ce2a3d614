// Package ranking holds the relevance weight tiers used by descriptor search,
// with calibration support.
//
// Basic Usage:
//
//	// Load calibration (typically at startup)
//	weights, err := ranking.LoadCalibration("configs/ranking.calibration.json")
//	if err != nil {
//		log.Warn("using default weights", "error", err)
//	}
//
//	// Postgres: ts_rank_cd($1::float4[], search_vector, query, 32)
//	args := weights.Fields.Slice()
//
//	// In-memory scorer
//	rank := textindex.Score(doc, query, weights.Fields.Array())
//
// Weight tiers:
//
// Every indexed field carries one of four labels, D through A. The criterion
// name is indexed at A and the performance level descriptions at B. Tiers
// scale how much a matching occurrence contributes to the rank; they never
// decide whether a record matches.
//
// Calibration:
//
// Weights can be tuned at deploy time through a JSON calibration file loaded at
// startup. Partial files are merged over the defaults. See
// configs/ranking.calibration.json for the default configuration.
package ranking
