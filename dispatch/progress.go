package dispatch

import "sync/atomic"

// Progress is a snapshot of a dispatch run.
type Progress struct {
	RunID     string
	Completed int
	Total     int
	Tier      string
	Done      bool
}

type progressReporter struct {
	out       chan<- Progress
	runID     string
	total     int
	completed atomic.Int64
	dropped   *atomic.Int64
}

// resolved counts one finished item and reports it.
func (p *progressReporter) resolved(tier string) {
	n := p.completed.Add(1)
	p.send(Progress{RunID: p.runID, Completed: int(n), Total: p.total, Tier: tier})
}

func (p *progressReporter) done() {
	p.send(Progress{
		RunID:     p.runID,
		Completed: int(p.completed.Load()),
		Total:     p.total,
		Done:      true,
	})
}

func (p *progressReporter) send(u Progress) {
	if p.out == nil {
		return
	}
	select {
	case p.out <- u:
	default:
		p.dropped.Add(1)
	}
}
