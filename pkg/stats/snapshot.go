package stats

import "encoding/json"

// Snapshot is the flat, serializable form of a Histogram. The cluster layer
// ships these between agents so distributions can be merged instead of
// averaging percentiles (which is wrong for tail latencies).
type Snapshot struct {
	LowestTrackableValue  int64   `json:"lowest"`
	HighestTrackableValue int64   `json:"highest"`
	SignificantFigures    int64   `json:"sig_figs"`
	Counts                []int64 `json:"counts"`
	Overflowed            bool    `json:"overflowed,omitempty"`
}

// Export captures the histogram's configuration and bucket counts.
func (h *Histogram) Export() *Snapshot {
	counts := make([]int64, len(h.counts))
	copy(counts, h.counts)
	return &Snapshot{
		LowestTrackableValue:  h.lowestTrackableValue,
		HighestTrackableValue: h.highestTrackableValue,
		SignificantFigures:    h.significantFigures,
		Counts:                counts,
		Overflowed:            h.overflowed,
	}
}

// Import reconstructs a histogram from a snapshot.
func Import(s *Snapshot) (*Histogram, error) {
	h, err := New(s.LowestTrackableValue, s.HighestTrackableValue, int(s.SignificantFigures))
	if err != nil {
		return nil, err
	}
	n := len(s.Counts)
	if n > len(h.counts) {
		n = len(h.counts)
	}
	var total int64
	for i := 0; i < n; i++ {
		h.counts[i] = s.Counts[i]
		total += s.Counts[i]
	}
	h.totalCount = total
	h.overflowed = s.Overflowed || total < 0
	return h, nil
}

// MarshalJSON encodes the histogram as its snapshot form.
func (h *Histogram) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Export())
}

// UnmarshalJSON decodes a snapshot back into the histogram.
func (h *Histogram) UnmarshalJSON(data []byte) error {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	imported, err := Import(&s)
	if err != nil {
		return err
	}
	*h = *imported
	return nil
}
