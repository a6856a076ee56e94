package stats

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// NanosToMillis is the scaling ratio that reports nanosecond recordings in
// milliseconds. It is the default for percentile distribution output since
// the engines record latencies in nanoseconds.
const NanosToMillis float64 = 1e6

// DistributionOptions configures WritePercentiles. The zero value (or a nil
// pointer) selects the defaults documented on each field.
type DistributionOptions struct {
	// TicksPerHalfDistance controls percentile resolution; see
	// PercentileIterator. Default 5.
	TicksPerHalfDistance int32
	// ScalingRatio divides every value before printing, so reports can use a
	// different unit than the recordings without rescaling the histogram.
	// Default NanosToMillis.
	ScalingRatio float64
	// CSV selects comma-separated output instead of the fixed-width report.
	CSV bool
}

// percentileWriter is the header/value/footer protocol both report variants
// implement.
type percentileWriter interface {
	writeHeader() error
	writeValue(cp PercentileCheckpoint) error
	writeFooter(h *Histogram) error
}

// WritePercentiles renders the percentile distribution report to w. The body
// is staged in memory: if iteration fails with ErrCountRange and the
// histogram has overflowed, the only output is a single diagnostic line; any
// other error propagates with nothing written.
func (h *Histogram) WritePercentiles(w io.Writer, opts *DistributionOptions) error {
	ticks := int32(5)
	ratio := NanosToMillis
	csv := false
	if opts != nil {
		if opts.TicksPerHalfDistance > 0 {
			ticks = opts.TicksPerHalfDistance
		}
		if opts.ScalingRatio > 0 {
			ratio = opts.ScalingRatio
		}
		csv = opts.CSV
	}

	var buf bytes.Buffer
	digits := int(h.significantFigures)
	var pw percentileWriter
	if csv {
		pw = &csvReportWriter{w: &buf, digits: digits, ratio: ratio}
	} else {
		pw = &textReportWriter{w: &buf, digits: digits, ratio: ratio}
	}

	if err := pw.writeHeader(); err != nil {
		return err
	}
	it := h.Percentiles(ticks)
	for it.Next() {
		if err := pw.writeValue(it.Checkpoint()); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		if errors.Is(err, ErrCountRange) && h.HasOverflowed() {
			_, werr := fmt.Fprintf(w, "# Histogram counts indicate OVERFLOW values\n")
			return werr
		}
		return err
	}
	if err := pw.writeFooter(h); err != nil {
		return err
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// textReportWriter renders the classic fixed-width HdrHistogram layout:
// scaled value, percentile as a fraction, cumulative count, and 1/(1-p).
// The 100% line omits the inverse column since 1/(1-1) has no value.
type textReportWriter struct {
	w      io.Writer
	digits int
	ratio  float64
}

func (t *textReportWriter) writeHeader() error {
	_, err := fmt.Fprintf(t.w, "%12s %14s %10s %14s\n\n",
		"Value", "Percentile", "TotalCount", "1/(1-Percentile)")
	return err
}

func (t *textReportWriter) writeValue(cp PercentileCheckpoint) error {
	value := float64(cp.ValueIteratedTo) / t.ratio
	fraction := cp.PercentileLevelIteratedTo / 100.0
	if cp.PercentileLevelIteratedTo >= 100.0 {
		_, err := fmt.Fprintf(t.w, "%12.*f %2.12f %10d\n",
			t.digits, value, fraction, cp.TotalCountToThisValue)
		return err
	}
	inverse := 1.0 / (1.0 - fraction)
	_, err := fmt.Fprintf(t.w, "%12.*f %2.12f %10d %14.2f\n",
		t.digits, value, fraction, cp.TotalCountToThisValue, inverse)
	return err
}

func (t *textReportWriter) writeFooter(h *Histogram) error {
	mean := h.Mean()
	std := h.StdDeviation()
	if h.TotalCount() == 0 {
		mean, std = 0, 0
	}
	if _, err := fmt.Fprintf(t.w, "#[Mean    = %12.*f, StdDeviation   = %12.*f]\n",
		t.digits, mean/t.ratio, t.digits, std/t.ratio); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(t.w, "#[Max     = %12.*f, Total count    = %12d]\n",
		t.digits, float64(h.Max())/t.ratio, h.TotalCount()); err != nil {
		return err
	}
	_, err := fmt.Fprintf(t.w, "#[Buckets = %12d, SubBuckets     = %12d]\n",
		h.bucketCount, h.subBucketCount)
	return err
}

// csvReportWriter renders the same fields comma-separated with no padding.
// The footer is intentionally empty so the output stays machine-parseable.
type csvReportWriter struct {
	w      io.Writer
	digits int
	ratio  float64
}

func (c *csvReportWriter) writeHeader() error {
	_, err := fmt.Fprintf(c.w, "\"Value\",\"Percentile\",\"TotalCount\",\"1/(1-Percentile)\"\n")
	return err
}

func (c *csvReportWriter) writeValue(cp PercentileCheckpoint) error {
	value := float64(cp.ValueIteratedTo) / c.ratio
	fraction := cp.PercentileLevelIteratedTo / 100.0
	if cp.PercentileLevelIteratedTo >= 100.0 {
		_, err := fmt.Fprintf(c.w, "%.*f,%.12f,%d,Infinity\n",
			c.digits, value, fraction, cp.TotalCountToThisValue)
		return err
	}
	inverse := 1.0 / (1.0 - fraction)
	_, err := fmt.Fprintf(c.w, "%.*f,%.12f,%d,%.2f\n",
		c.digits, value, fraction, cp.TotalCountToThisValue, inverse)
	return err
}

func (c *csvReportWriter) writeFooter(h *Histogram) error { return nil }
