package cluster

import (
	"sort"
)

// Cluster represents the set of known agents and notifies subscribers of
// membership changes.
type Cluster interface {
	// Members returns the current members.
	Members() []Agent
	// Subscribe subscribes to changes to the cluster.
	Subscribe() Subscription
	// Stop monitoring this cluster.
	Close() error
}

func NewCluster(initial []Agent, updateCh chan []AgentUpdate) Cluster {
	c := &simpleCluster{
		inCh:    updateCh,
		reqCh:   make(chan interface{}),
		members: state{members: initial},
	}
	go c.loop()
	return c
}

type simpleCluster struct {
	inCh  chan []AgentUpdate
	reqCh chan interface{}

	members state
	subs    []*subscriber
}

func (c *simpleCluster) Members() []Agent {
	ch := make(chan []Agent)
	c.reqCh <- ch
	return <-ch
}

func (c *simpleCluster) Subscribe() Subscription {
	ch := make(chan Subscription)
	c.reqCh <- ch
	return <-ch
}

func (c *simpleCluster) Close() error {
	close(c.reqCh)
	return nil
}

func (c *simpleCluster) done() bool {
	return c.inCh == nil && c.reqCh == nil
}

func (c *simpleCluster) loop() {
	for !c.done() {
		select {
		case updates, ok := <-c.inCh:
			if !ok {
				c.inCh = nil
				continue
			}
			// Stable keeps add-then-remove of the same agent in order.
			sort.Stable(AgentUpdates(updates))
			c.members.apply(updates)
			for _, sub := range c.subs {
				sub.inCh <- updates
			}
		case req, ok := <-c.reqCh:
			if !ok {
				c.reqCh = nil
				continue
			}
			c.handleReq(req)
		}
	}
	for _, sub := range c.subs {
		close(sub.inCh)
	}
}

func (c *simpleCluster) handleReq(req interface{}) {
	switch req := req.(type) {
	case chan []Agent:
		// Members()
		req <- c.members.current()
	case chan Subscription:
		// Subscribe()
		sub := newSubscriber(c)
		c.subs = append(c.subs, sub)
		req <- Subscription{
			InitialMembers: c.members.current(),
			Updates:        sub.outCh,
			Closer:         sub,
		}
	case *subscriber:
		// closeSubscription()
		for i, sub := range c.subs {
			if sub == req {
				c.subs = append(c.subs[0:i], c.subs[i+1:]...)
				close(sub.inCh)
				break
			}
		}
	}
}

func (c *simpleCluster) closeSubscription(s *subscriber) {
	c.reqCh <- s
}

// state holds the members of a Cluster.
type state struct {
	members []Agent
}

func (s *state) apply(updates []AgentUpdate) {
	for _, update := range updates {
		switch update.UpdateType {
		case AgentAdded:
			s.members = append(s.members, update.Agent)
		case AgentRemoved:
			for i, a := range s.members {
				if a.Id == update.Id {
					s.members = append(s.members[0:i], s.members[i+1:]...)
					break
				}
			}
		}
	}
}

func (s *state) current() []Agent {
	// Defensive copy
	return append([]Agent{}, s.members...)
}
