package queue

// Stats summarizes the savings of successful optimize entries.
type Stats struct {
	// TotalSize is the summed original size in bytes.
	TotalSize float64
	// SavingsSize is the summed number of bytes saved.
	SavingsSize float64
	Average     float64
	Top         float64
	Count       int
}

// computeStats counts Success entries with positive savings that are not
// conversion targets. An entry shrunk to nothing counts towards Average and
// Top only, since its original size cannot be recovered.
func computeStats(entries []Entry) Stats {
	var s Stats
	for _, e := range entries {
		if e.Status != StatusSuccess || e.IsConversion() || e.Size == nil || e.Savings == nil {
			continue
		}
		savings := *e.Savings
		if savings <= 0 {
			continue
		}
		if savings < 1 {
			size := float64(*e.Size)
			originalSize := size / (1 - savings)
			s.TotalSize += originalSize
			s.SavingsSize += originalSize - size
		}
		s.Average += savings
		if savings > s.Top {
			s.Top = savings
		}
		s.Count++
	}
	if s.Count > 0 {
		s.Average /= float64(s.Count)
	}
	return s
}
