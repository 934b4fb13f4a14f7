package join

import (
	"context"
	"sync"
)

type Emission struct {
	Merged  MergedResult
	Anchors []*Record
}

type Failure struct {
	Record *Record
	Err    error
}

// MockPort records every signal it receives. EmitErr, when set, is returned
// by Emit and the emission is not recorded.
type MockPort struct {
	mu      *sync.Mutex
	EmitErr error
	emitted []Emission
	acked   []*Record
	failed  []Failure
}

func NewMockPort() *MockPort {
	return &MockPort{
		mu: new(sync.Mutex),
	}
}

func (p *MockPort) Emit(ctx context.Context, merged MergedResult, anchors []*Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.EmitErr != nil {
		return p.EmitErr
	}

	p.emitted = append(p.emitted, Emission{Merged: merged, Anchors: anchors})
	return nil
}

func (p *MockPort) Ack(ctx context.Context, record *Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acked = append(p.acked, record)
}

func (p *MockPort) Fail(ctx context.Context, record *Record, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, Failure{Record: record, Err: err})
}

func (p *MockPort) Emitted() []Emission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Emission(nil), p.emitted...)
}

func (p *MockPort) Acked() []*Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Record(nil), p.acked...)
}

func (p *MockPort) Failed() []Failure {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Failure(nil), p.failed...)
}
