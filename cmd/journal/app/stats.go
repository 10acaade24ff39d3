package app

import "math"

// For 20 cycles:
// - 5% percentile  = 1 cycle
// - 95% percentile = 19th cycle
const minimumSampleCount = 20

// AmplitudeBounds represents the calculated peak amplitude boundaries
type AmplitudeBounds struct {
	Min  float64 // 5th percentile peak amplitude
	Max  float64 // 95th percentile peak amplitude
	Mean float64 // Mean peak amplitude
}

// AmplitudeBin is one histogram bucket covering [Low, High)
type AmplitudeBin struct {
	Low   float64
	High  float64
	Count uint32
}

// AmplitudeHistogram maintains a histogram of peak amplitudes with
// fixed-width bins
type AmplitudeHistogram struct {
	width      float64        // Bin width in amplitude units
	bins       map[int]uint32 // Map of bin index to count
	sum        float64        // Running sum for the exact mean
	totalCount uint64         // Total number of samples
	minBin     int            // Cache for min bin
	maxBin     int            // Cache for max bin
}

// NewAmplitudeHistogram creates a new histogram with the given bin width
func NewAmplitudeHistogram(width float64) *AmplitudeHistogram {
	if width <= 0 {
		width = 1
	}
	return &AmplitudeHistogram{
		width:  width,
		bins:   make(map[int]uint32),
		minBin: math.MaxInt32,
		maxBin: math.MinInt32,
	}
}

// binIndex converts an amplitude value to a bin index
func (h *AmplitudeHistogram) binIndex(v float64) int {
	return int(math.Floor(v / h.width))
}

// Update adds a new peak amplitude reading to the histogram
func (h *AmplitudeHistogram) Update(v float64) {
	bin := h.binIndex(v)

	h.bins[bin]++
	h.totalCount++
	h.sum += v

	if bin < h.minBin {
		h.minBin = bin
	}
	if bin > h.maxBin {
		h.maxBin = bin
	}
}

// Count returns the total number of samples recorded
func (h *AmplitudeHistogram) Count() uint64 {
	return h.totalCount
}

// Bins returns the buckets between the lowest and highest populated bin
// in ascending order, including empty buckets in between
func (h *AmplitudeHistogram) Bins() []AmplitudeBin {
	if h.totalCount == 0 {
		return nil
	}

	out := make([]AmplitudeBin, 0, h.maxBin-h.minBin+1)
	for bin := h.minBin; bin <= h.maxBin; bin++ {
		out = append(out, AmplitudeBin{
			Low:   float64(bin) * h.width,
			High:  float64(bin+1) * h.width,
			Count: h.bins[bin],
		})
	}
	return out
}

// PercentileBounds returns amplitude bounds based on percentiles. Below
// minimumSampleCount samples the percentiles carry no information and
// the bounds cover the full populated range instead.
func (h *AmplitudeHistogram) PercentileBounds() AmplitudeBounds {
	if h.totalCount == 0 {
		return AmplitudeBounds{}
	}

	mean := h.sum / float64(h.totalCount)
	if h.totalCount < minimumSampleCount {
		return AmplitudeBounds{
			Min:  float64(h.minBin) * h.width,
			Max:  float64(h.maxBin+1) * h.width,
			Mean: mean,
		}
	}

	// Calculate the target count for the 5th and 95th percentiles
	target := h.totalCount * 5 / 100

	// Find 5th percentile
	var count uint64
	min5th, max95th := h.minBin, h.maxBin
	for bin := h.minBin; bin <= h.maxBin; bin++ {
		count += uint64(h.bins[bin])
		if count >= target {
			min5th = bin
			break
		}
	}

	// Find 95th percentile
	count = 0
	for bin := h.maxBin; bin >= h.minBin; bin-- {
		count += uint64(h.bins[bin])
		if count >= target {
			max95th = bin
			break
		}
	}

	return AmplitudeBounds{
		Min:  float64(min5th) * h.width,
		Max:  float64(max95th+1) * h.width,
		Mean: mean,
	}
}
