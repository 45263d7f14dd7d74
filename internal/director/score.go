package director

import "fmt"

// Score is the itemised comprehensive priority of one detection
type Score struct {
	Base       int
	Audio      int
	Novelty    int
	Recency    int // zero or negative
	Centrality int
	Size       int
	Confidence int
	Stay       int
}

func (s Score) Total() int {
	return s.Base + s.Audio + s.Novelty + s.Recency + s.Centrality + s.Size + s.Confidence + s.Stay
}

func (s Score) String() string {
	return fmt.Sprintf("priority %d (base %d, audio %+d, novelty %+d, recency %+d, center %+d, size %+d, conf %+d, stay %+d)",
		s.Total(), s.Base, s.Audio, s.Novelty, s.Recency, s.Centrality, s.Size, s.Confidence, s.Stay)
}
