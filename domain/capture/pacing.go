package capture

import "time"

// Pacer spaces frames one period apart on average. Oversleeps and overruns
// accumulate in a signed balance that later sleeps pay back. The balance is
// floored at minus one period so a long stall cannot trigger a burst of
// back-to-back frames.
type Pacer struct {
	period  time.Duration
	balance time.Duration
}

func NewPacer(period time.Duration) *Pacer { return &Pacer{period: period} }

func (p *Pacer) Period() time.Duration  { return p.period }
func (p *Pacer) Balance() time.Duration { return p.balance }

// Plan returns the nominal remainder of the period after work and the sleep
// to request. A request of zero means skip sleeping.
func (p *Pacer) Plan(work time.Duration) (raw, request time.Duration) {
	raw = p.period - work
	request = raw + p.balance
	if request < 0 {
		request = 0
	}
	return raw, request
}

// Settle folds the difference between the nominal and the measured sleep
// into the balance.
func (p *Pacer) Settle(raw, slept time.Duration) {
	p.balance += raw - slept
	if p.balance < -p.period {
		p.balance = -p.period
	}
}

// Wait plans, sleeps and settles one iteration. It returns false if done
// closed during the sleep; the balance is left untouched then.
func (p *Pacer) Wait(work time.Duration, done <-chan struct{}) bool {
	raw, request := p.Plan(work)
	start := time.Now()
	if request > 0 {
		t := time.NewTimer(request)
		select {
		case <-t.C:
		case <-done:
			t.Stop()
			return false
		}
	}
	p.Settle(raw, time.Since(start))
	return true
}
