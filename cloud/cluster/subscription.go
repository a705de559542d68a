package cluster

import (
	"io"
)

// Subscription is a snapshot of current members plus a stream of later
// updates. Close the Closer when done listening.
type Subscription struct {
	InitialMembers []Agent
	Updates        chan []AgentUpdate
	Closer         io.Closer
}

func (s *Subscription) Close() error {
	return s.Closer.Close()
}

// subscriber promptly reads its input and maintains a queue so that the
// cluster loop never blocks on a slow listener.
type subscriber struct {
	inCh  chan []AgentUpdate
	outCh chan []AgentUpdate
	cl    *simpleCluster
	queue []AgentUpdate
}

func newSubscriber(cl *simpleCluster) *subscriber {
	s := &subscriber{
		inCh:  make(chan []AgentUpdate),
		outCh: make(chan []AgentUpdate),
		cl:    cl,
	}
	go s.loop()
	return s
}

func (s *subscriber) Close() error {
	s.cl.closeSubscription(s)
	return nil
}

func (s *subscriber) loop() {
	for s.inCh != nil || len(s.queue) > 0 {
		var outCh chan []AgentUpdate
		var outgoing []AgentUpdate
		if len(s.queue) > 0 {
			outCh = s.outCh
			outgoing = s.queue
		}
		select {
		case updates, ok := <-s.inCh:
			if !ok {
				s.inCh = nil
				continue
			}
			s.queue = append(s.queue, updates...)
		case outCh <- outgoing:
			s.queue = nil
		}
	}
	close(s.outCh)
}
