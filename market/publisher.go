package market

import (
	"sync"

	"yield-engine/model"
)

// Publisher 一个轻量事件分发器，慢订阅者直接丢弃。
type Publisher struct {
	mu        sync.RWMutex
	stateSubs []chan model.ProtocolState
}

func NewPublisher() *Publisher {
	return &Publisher{stateSubs: make([]chan model.ProtocolState, 0)}
}

func (p *Publisher) SubscribeState() <-chan model.ProtocolState {
	ch := make(chan model.ProtocolState, 1)
	p.mu.Lock()
	p.stateSubs = append(p.stateSubs, ch)
	p.mu.Unlock()
	return ch
}

func (p *Publisher) PublishState(s model.ProtocolState) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.stateSubs {
		select {
		case ch <- s:
		default:
		}
	}
}
