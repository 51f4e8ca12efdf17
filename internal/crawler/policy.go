package crawler

// Decision is the stopping policy's verdict on one candidate.
type Decision int

// Stopping policy outcomes.
const (
	Accept Decision = iota
	HaltWatermark
	HaltLimit
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case HaltWatermark:
		return "halt_watermark"
	case HaltLimit:
		return "halt_limit"
	default:
		return "unknown"
	}
}

// Decide applies the stopping policy before a candidate is accepted. A
// watermark match halts the run outright since everything after it was
// already processed. Only a single watermark is compared, so items reordered
// past it between runs are not detected.
func Decide(candidateHash string, watermark *Watermark, count, maxCount int) Decision {
	if watermark != nil && watermark.IdentityHash != "" && candidateHash == watermark.IdentityHash {
		return HaltWatermark
	}
	if count >= maxCount {
		return HaltLimit
	}
	return Accept
}
