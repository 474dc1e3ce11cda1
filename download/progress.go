package download

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Progress is a snapshot of how far a download has got. Expected is 0 when the total size is not (yet) known.
type Progress struct {
	Downloaded int64
	Expected   int64
}

// Ratio returns the completed fraction in [0, 1], or 0 if the expected size is unknown.
func (p Progress) Ratio() float64 {
	if p.Expected <= 0 {
		return 0
	}
	r := float64(p.Downloaded) / float64(p.Expected)
	if r > 1 {
		return 1
	}
	return r
}

// IsComplete is true once at least the expected number of bytes has been transferred.
func (p Progress) IsComplete() bool {
	return p.Expected > 0 && p.Downloaded >= p.Expected
}

func (p Progress) String() string {
	if p.Expected <= 0 {
		return humanize.Bytes(uint64(p.Downloaded))
	}
	return fmt.Sprintf("%s / %s (%.0f%%)", humanize.Bytes(uint64(p.Downloaded)), humanize.Bytes(uint64(p.Expected)), p.Ratio()*100)
}
