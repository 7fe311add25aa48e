package metrics

import (
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/events"
)

// EventCollector returns a subscriber that counts every lifecycle event,
// so replicas that only emit events still show up in metrics
func EventCollector() *events.Subscriber {
	return &events.Subscriber{
		ID: "metrics-collector",
		Handler: func(event *events.Event) {
			LifecycleEvents.WithLabelValues(string(event.Type)).Inc()
		},
	}
}
