package tracer

import "github.com/sltsclo/detecter/internal/event"

// Stats counts the events a tracer has processed, one counter per
// recognized kind plus a bucket for anything else. Counters are folded
// into the tracer's exit signal.
type Stats struct {
	Spawn   uint64
	Exit    uint64
	Send    uint64
	Recv    uint64
	Spawned uint64
	Other   uint64
}

func (s *Stats) bump(k event.Kind) {
	switch k {
	case event.KindSpawn:
		s.Spawn++
	case event.KindExit:
		s.Exit++
	case event.KindSend:
		s.Send++
	case event.KindRecv:
		s.Recv++
	case event.KindSpawned:
		s.Spawned++
	default:
		s.Other++
	}
}

// Total returns the number of events counted.
func (s Stats) Total() uint64 {
	return s.Spawn + s.Exit + s.Send + s.Recv + s.Spawned + s.Other
}

// Add returns the per-field sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Spawn:   s.Spawn + o.Spawn,
		Exit:    s.Exit + o.Exit,
		Send:    s.Send + o.Send,
		Recv:    s.Recv + o.Recv,
		Spawned: s.Spawned + o.Spawned,
		Other:   s.Other + o.Other,
	}
}
