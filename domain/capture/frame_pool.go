package capture

// bufferPool lends two frame buffers back and forth between the worker and
// the consumer. Each buffer has a one-token channel; whoever holds the token
// may touch the bytes. The worker takes a token before capturing, the token
// travels with the published frame, and the consumer puts it back after the
// payload has been copied out.
type bufferPool struct {
	surfaces [2]Surface
	tokens   [2]chan struct{}
}

func newBufferPool(a, b Surface) *bufferPool {
	p := &bufferPool{surfaces: [2]Surface{a, b}}
	for i := range p.tokens {
		p.tokens[i] = make(chan struct{}, 1)
		p.tokens[i] <- struct{}{}
	}
	return p
}

// acquire blocks until buffer i is free or done is closed.
func (p *bufferPool) acquire(i int, done <-chan struct{}) bool {
	select {
	case <-p.tokens[i]:
		return true
	default:
	}
	select {
	case <-p.tokens[i]:
		return true
	case <-done:
		return false
	}
}

// release returns buffer i. Releasing a buffer nobody holds is a bug.
func (p *bufferPool) release(i int) {
	select {
	case p.tokens[i] <- struct{}{}:
	default:
		panic("capture: frame buffer released twice")
	}
}

func (p *bufferPool) surface(i int) Surface { return p.surfaces[i] }

// reclaim waits until both buffers are back and keeps them. The pool is
// unusable afterwards.
func (p *bufferPool) reclaim() {
	for i := range p.tokens {
		<-p.tokens[i]
	}
}

// free releases the backend surfaces. Call only after reclaim.
func (p *bufferPool) free() {
	for i, s := range p.surfaces {
		if s != nil {
			s.Release()
			p.surfaces[i] = nil
		}
	}
}
