package pull

// computePercent implements the weighted progress formula of spec
// section 4.7. cursor/nAncestry are only meaningful for PhaseDownloading;
// jobPercent is the percent of whatever sub-job is active in that phase
// (images/tags/ancestry+json/layer), already in [0, 100].
func computePercent(phase phaseKind, cursor, nAncestry, jobPercent, secondJobPercent int) int {
	switch phase {
	case phaseSearching:
		return 0 + 5*jobPercent/100
	case phaseResolving:
		return 5 + 5*jobPercent/100
	case phaseMetadata:
		return 10 + 5*jobPercent/100 + 5*secondJobPercent/100
	case phaseDownloading:
		denom := nAncestry
		if denom < 1 {
			denom = 1
		}
		return 20 + 75*cursor/denom + (75*jobPercent/100)/denom
	case phaseCopying:
		return 95
	default:
		return 0
	}
}
