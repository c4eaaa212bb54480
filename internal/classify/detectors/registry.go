// Package detectors provides the concrete protocol detectors that
// populate a classify.Detector registry. It depends on internal/classify
// for shared types and primitives; internal/classify never depends back.
package detectors

import "github.com/deadmanoz/p2ms-analyzer/internal/classify"

// NewRegistry returns the protocol detectors in the fixed priority order
// spec §4.4.1 mandates. Structural fallbacks (LikelyDataStorage,
// LikelyLegitimateMultisig, Unknown) are not registry entries — they run
// inside classify.ClassifyTransaction after every registry detector
// rejects.
func NewRegistry() []classify.Detector {
	return []classify.Detector{
		NewStamps(),
		NewCounterparty(),
		NewOmniLayer(),
		NewChancecoin(),
		NewPPk(),
		NewAsciiIdentifier(),
		NewOpReturnSignalled(),
		NewDataStorage(),
	}
}
