package llm

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// SimulatedProvider stands in for a hosted model. It answers from the
// matched insight when there is one and with a templated reply otherwise.
type SimulatedProvider struct {
	MinDelay time.Duration
	MaxDelay time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulatedProvider(minDelay, maxDelay time.Duration) *SimulatedProvider {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &SimulatedProvider{
		MinDelay: minDelay,
		MaxDelay: maxDelay,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *SimulatedProvider) Name() string { return "simulated" }

func (p *SimulatedProvider) Ask(ctx context.Context, query string, qc QueryContext) (*Answer, error) {
	if d := p.delay(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if qc.Insight != nil {
		return &Answer{
			Text:       qc.Insight.Text,
			Confidence: qc.Insight.Confidence,
			TokensUsed: 50 + p.intn(100),
			QueryType:  qc.Insight.Pattern,
		}, nil
	}

	topic := "retail metrics"
	if strings.Contains(strings.ToLower(query), "sales") {
		topic = "sales performance"
	}

	return &Answer{
		Text: fmt.Sprintf("Based on the available data, I can help you analyze %s. The dashboard shows comprehensive transaction data across Philippine regions. Could you be more specific about what aspect you'd like to explore?",
			topic),
		Confidence: 0.6,
		TokensUsed: 100 + p.intn(150),
	}, nil
}

func (p *SimulatedProvider) delay() time.Duration {
	span := p.MaxDelay - p.MinDelay
	if span <= 0 {
		return p.MinDelay
	}
	return p.MinDelay + time.Duration(p.intn(int(span)))
}

func (p *SimulatedProvider) intn(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p.rng.Intn(n)
}
