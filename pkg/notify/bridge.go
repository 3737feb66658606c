package notify

import (
	"github.com/rs/zerolog"

	"github.com/m00npl/guardant/pkg/events"
	"github.com/m00npl/guardant/pkg/log"
)

// Destination is one configured place alerts go
type Destination struct {
	Channel Channel
	Target  string
}

// alertSubjects maps the event types worth waking someone for to their
// notification subject. Everything else on the broker is ignored.
var alertSubjects = map[events.EventType]string{
	events.EventServiceStatusChanged:  "Service status changed",
	events.EventEndpointStatusChanged: "Endpoint status changed",
	events.EventFailoverTriggered:     "Failover triggered",
	events.EventFailoverCompleted:     "Failover completed",
	events.EventFailoverFailed:        "Failover failed",
	events.EventFailoverRecovered:     "Failover recovered",
}

// Bridge subscribes to the event broker and turns alert-worthy events into
// notification messages, one per configured destination. Delivery itself is
// handed off through enqueue so the event loop never blocks on a transport.
type Bridge struct {
	broker       *events.Broker
	destinations []Destination
	enqueue      func(Message)
	logger       zerolog.Logger

	sub    events.Subscriber
	stopCh chan struct{}
	done   chan struct{}
}

func NewBridge(broker *events.Broker, destinations []Destination, enqueue func(Message)) *Bridge {
	if len(destinations) == 0 {
		destinations = []Destination{{Channel: ChannelEmail}}
	}
	return &Bridge{
		broker:       broker,
		destinations: destinations,
		enqueue:      enqueue,
		logger:       log.WithComponent("notify-bridge"),
	}
}

// Start subscribes to the broker and launches the translation loop
func (b *Bridge) Start() {
	b.sub = b.broker.Subscribe()
	b.stopCh = make(chan struct{})
	b.done = make(chan struct{})
	go b.run()
	b.logger.Info().Int("destinations", len(b.destinations)).Msg("notification bridge started")
}

// Stop ends the loop and drops the subscription
func (b *Bridge) Stop() {
	close(b.stopCh)
	<-b.done
	b.broker.Unsubscribe(b.sub)
}

func (b *Bridge) run() {
	defer close(b.done)
	for {
		select {
		case ev, ok := <-b.sub:
			if !ok {
				return
			}
			b.handle(ev)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bridge) handle(ev *events.Event) {
	subject, ok := alertSubjects[ev.Type]
	if !ok {
		return
	}
	var fields map[string]any
	if len(ev.Metadata) > 0 {
		fields = make(map[string]any, len(ev.Metadata))
		for k, v := range ev.Metadata {
			fields[k] = v
		}
	}
	for _, dst := range b.destinations {
		b.enqueue(Message{
			Channel: dst.Channel,
			Target:  dst.Target,
			Subject: subject,
			Body:    ev.Message,
			Fields:  fields,
		})
	}
}
