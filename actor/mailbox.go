package actor

import (
	"sync/atomic"
)

// Mailbox queue categories, in DRR visit order. Urgent leads each cycle so
// urgent traffic strictly precedes normal traffic of the same logical
// arrival time.
const (
	categoryUrgent = iota
	categoryNormal
	categoryUpstream
	categoryDownstream
	numCategories
)

// DRR quanta per category, in message counts. A queue whose deficit runs out
// yields to the next category until the cycle restarts.
var drrQuanta = [numCategories]int{
	categoryUrgent:     4,
	categoryNormal:     2,
	categoryUpstream:   2,
	categoryDownstream: 2,
}

// inboxNode is one entry in the producer-side LIFO stack.
type inboxNode struct {
	next *inboxNode
	el   *MailboxElement
}

// Sentinel values for the inbox head pointer. A blocked mailbox parks its
// actor; a closed mailbox refuses producers outright.
var (
	blockedTag = &inboxNode{}
	closedTag  = &inboxNode{}
)

// fifo is a plain consumer-side queue for one category.
type fifo struct {
	items []*MailboxElement
}

func (q *fifo) push(el *MailboxElement) {
	q.items = append(q.items, el)
}

func (q *fifo) pop() *MailboxElement {
	if len(q.items) == 0 {
		return nil
	}

	el := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]

	return el
}

func (q *fifo) empty() bool {
	return len(q.items) == 0
}

// Mailbox is the actor's inbox: a many-producer lock-free LIFO stack feeding
// four consumer-side FIFO queues that are dequeued in a weighted
// (deficit-round-robin) cycle. The downstream category is further
// multiplexed into dynamic sub-queues keyed by stream slot.
//
// Thread safety: Push and TryUnblock may race from any goroutine. Everything
// else, Close included, is single-consumer and must only be called by the
// scheduler on behalf of the actor.
type Mailbox struct {
	// head is the producer stack: nil (empty), blockedTag, closedTag or
	// a chain of nodes in LIFO order.
	head atomic.Pointer[inboxNode]

	// queues are the categorized FIFO queues.
	queues [numCategories]fifo

	// downstream multiplexes the downstream category by slot. slotOrder
	// round-robins across live slots; slotNext is the rotation cursor.
	downstream map[uint64]*fifo
	slotOrder  []uint64
	slotNext   int

	// deficits carries DRR state across Pop calls. cursor is the current
	// category.
	deficits [numCategories]int
	cursor   int

	// cache holds messages the consumer skipped; they are retried before
	// new input on the next fetch.
	cache []*MailboxElement
}

// NewMailbox returns an empty, unblocked mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		downstream: make(map[uint64]*fifo),
	}
}

// PushResult describes the outcome of a producer-side push.
type PushResult int

const (
	// PushOK means the element was enqueued into a non-blocked mailbox.
	PushOK PushResult = iota

	// PushUnblocked means the element was enqueued and the push flipped
	// the mailbox from blocked to non-empty: the producer now owns the
	// right (and the duty) to re-schedule the actor.
	PushUnblocked

	// PushClosed means the mailbox is terminated; the caller must bounce
	// the element.
	PushClosed
)

// Push appends an element from any producer. The CAS loop either chains the
// node onto the stack or, when the consumer parked the actor, swaps out the
// blocked sentinel and reports the unblock to the caller.
func (m *Mailbox) Push(el *MailboxElement) PushResult {
	node := &inboxNode{el: el}

	for {
		old := m.head.Load()
		switch old {
		case closedTag:
			return PushClosed

		case blockedTag:
			node.next = nil
			if m.head.CompareAndSwap(old, node) {
				return PushUnblocked
			}

		default:
			node.next = old
			if m.head.CompareAndSwap(old, node) {
				return PushOK
			}
		}
	}
}

// TryBlock flips the mailbox from empty to blocked so the scheduler can park
// the actor. The CAS fails when a concurrent push slipped in; the consumer
// must then retry its fetch instead of parking.
func (m *Mailbox) TryBlock() bool {
	if m.hasConsumerMessages() {
		return false
	}

	return m.head.CompareAndSwap(nil, blockedTag)
}

// TryUnblock reverts a block without enqueueing anything. Used when a caller
// needs to force a wakeup (e.g. terminate requests).
func (m *Mailbox) TryUnblock() bool {
	return m.head.CompareAndSwap(blockedTag, nil)
}

// IsClosed reports whether Close ran.
func (m *Mailbox) IsClosed() bool {
	return m.head.Load() == closedTag
}

// Close terminates the mailbox and returns every element still queued, in
// delivery order, so the caller can feed them through a bouncer. Only the
// consumer may call Close.
func (m *Mailbox) Close() []*MailboxElement {
	// Take the producer stack and seal the inbox in one swap.
	var stack *inboxNode
	for {
		old := m.head.Load()
		if old == closedTag {
			return nil
		}
		if m.head.CompareAndSwap(old, closedTag) {
			if old != blockedTag {
				stack = old
			}
			break
		}
	}

	var out []*MailboxElement

	// Cached (skipped) messages first: they were received earliest.
	out = append(out, m.cache...)
	m.cache = nil

	// Then the categorized queues in visit order.
	for i := range m.queues {
		for {
			el := m.queues[i].pop()
			if el == nil {
				break
			}
			out = append(out, el)
		}
	}
	for _, slot := range m.slotOrder {
		q := m.downstream[slot]
		for {
			el := q.pop()
			if el == nil {
				break
			}
			out = append(out, el)
		}
	}
	m.downstream = make(map[uint64]*fifo)
	m.slotOrder = nil

	// Finally the raw producer stack, restored to FIFO order.
	out = append(out, reverseChain(stack)...)

	return out
}

// FetchMore drains the producer stack into the categorized queues. It
// returns true when at least one new element (or cached retry) became
// available to Pop.
func (m *Mailbox) FetchMore() bool {
	fetched := false

	// Skipped messages get retried ahead of new input.
	if len(m.cache) > 0 {
		for _, el := range m.cache {
			m.classify(el)
		}
		m.cache = nil
		fetched = true
	}

	var stack *inboxNode
	for {
		old := m.head.Load()
		if old == nil || old == blockedTag || old == closedTag {
			break
		}
		if m.head.CompareAndSwap(old, nil) {
			stack = old
			break
		}
	}

	for _, el := range reverseChain(stack) {
		m.classify(el)
		fetched = true
	}

	return fetched
}

// CacheSkipped stores a message the consumer could not handle yet. It is
// retried on the next FetchMore.
func (m *Mailbox) CacheSkipped(el *MailboxElement) {
	m.cache = append(m.cache, el)
}

// Pop removes the next element according to the DRR cycle, or returns nil if
// the consumer-side queues are empty. Producers' pending pushes are only
// visible after FetchMore.
func (m *Mailbox) Pop() *MailboxElement {
	if !m.hasConsumerMessages() {
		return nil
	}

	for rounds := 0; ; rounds++ {
		cat := m.cursor

		if m.deficits[cat] > 0 && !m.categoryEmpty(cat) {
			m.deficits[cat]--

			return m.popCategory(cat)
		}

		// Deficit spent or queue empty: move on. A full cycle with no
		// hit refills every non-empty queue's deficit.
		m.cursor = (m.cursor + 1) % numCategories
		if m.cursor == categoryUrgent {
			for i := range m.deficits {
				m.deficits[i] = drrQuanta[i]
			}
		}

		// Two full cycles guarantee a refill then a hit.
		if rounds > 2*numCategories {
			return nil
		}
	}
}

// hasConsumerMessages reports whether Pop can produce anything without
// another FetchMore.
func (m *Mailbox) hasConsumerMessages() bool {
	for i := range m.queues {
		if !m.queues[i].empty() {
			return true
		}
	}
	for _, q := range m.downstream {
		if !q.empty() {
			return true
		}
	}

	return false
}

// HasPending reports whether any message is queued anywhere: consumer
// queues, skip cache or the producer stack.
func (m *Mailbox) HasPending() bool {
	if m.hasConsumerMessages() || len(m.cache) > 0 {
		return true
	}

	head := m.head.Load()

	return head != nil && head != blockedTag && head != closedTag
}

// classify routes one element into its category queue.
func (m *Mailbox) classify(el *MailboxElement) {
	switch msg := el.Content.(type) {
	case *UpstreamMsg:
		m.queues[categoryUpstream].push(el)

	case *DownstreamMsg:
		q, ok := m.downstream[msg.Slot]
		if !ok {
			q = &fifo{}
			m.downstream[msg.Slot] = q
			m.slotOrder = append(m.slotOrder, msg.Slot)
		}
		q.push(el)

	default:
		if el.MID.IsUrgent() {
			m.queues[categoryUrgent].push(el)
		} else {
			m.queues[categoryNormal].push(el)
		}
	}
}

// popCategory removes one element from the given category, rotating across
// downstream sub-queues by slot.
func (m *Mailbox) popCategory(cat int) *MailboxElement {
	if cat != categoryDownstream {
		return m.queues[cat].pop()
	}

	for i := 0; i < len(m.slotOrder); i++ {
		idx := (m.slotNext + i) % len(m.slotOrder)
		q := m.downstream[m.slotOrder[idx]]
		if el := q.pop(); el != nil {
			m.slotNext = (idx + 1) % len(m.slotOrder)

			return el
		}
	}

	return nil
}

// categoryEmpty reports whether the category has nothing to pop.
func (m *Mailbox) categoryEmpty(cat int) bool {
	if cat != categoryDownstream {
		return m.queues[cat].empty()
	}
	for _, q := range m.downstream {
		if !q.empty() {
			return false
		}
	}

	return true
}

// reverseChain converts the LIFO producer chain into FIFO order.
func reverseChain(node *inboxNode) []*MailboxElement {
	var out []*MailboxElement
	for n := node; n != nil; n = n.next {
		out = append(out, n.el)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return out
}
