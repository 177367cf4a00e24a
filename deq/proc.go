package deq

import (
	"sync"

	"github.com/vkngwrapper/conveyor/fifo"
)

// Strategy controls the order in which a proc scans its queues
type Strategy int

const (
	// StrategyDepthFirst always scans a proc's queues in the order they were declared. A queue that
	// never runs dry will starve the queues declared after it.
	StrategyDepthFirst Strategy = iota
	// StrategyBreadthFirst starts each scan at the queue after the one that produced the previous item,
	// so that every queue of the proc is served in turn
	StrategyBreadthFirst
)

var strategyMapping = map[Strategy]string{
	StrategyDepthFirst:   "StrategyDepthFirst",
	StrategyBreadthFirst: "StrategyBreadthFirst",
}

func (s Strategy) String() string {
	return strategyMapping[s]
}

type proc struct {
	index  int
	queues []int

	lock        sync.Mutex
	cond        *sync.Cond
	strategy    Strategy
	queueOffset int
	processing  int

	batchCallbacks []batchRegistration
}

func newProc(index int, queues []int) *proc {
	p := &proc{
		index:  index,
		queues: append([]int(nil), queues...),
	}
	p.cond = sync.NewCond(&p.lock)

	return p
}

// scan must be called with the proc lock held
func (p *proc) scan(queues []*fifo.Queue[Item]) (Item, bool) {
	count := len(p.queues)

	for i := 0; i < count; i++ {
		position := i
		if p.strategy == StrategyBreadthFirst {
			position = (i + p.queueOffset) % count
		}

		item, ok := queues[p.queues[position]].Dequeue(false)
		if ok {
			if p.strategy == StrategyBreadthFirst {
				p.queueOffset = (position + 1) % count
			}
			return item, true
		}
	}

	return Item{}, false
}

func (p *proc) signal() {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.cond.Broadcast()
}

func (p *proc) doneProcessing() {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.processing--
}

func (p *proc) idle(queues []*fifo.Queue[Item]) bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.processing > 0 {
		return false
	}

	for _, queue := range p.queues {
		if queues[queue].Size() > 0 {
			return false
		}
	}

	return true
}
