// Package notify consumes notification events off the bus and delivers them
// by email. Running it as a queue subscriber means multiple API instances
// share one delivery stream.
package notify

import (
	"encoding/json"
	"fmt"

	"github.com/gatewise/guestgate/internal/platform/mailer"
	"github.com/gatewise/guestgate/pkg/events"
	"github.com/gatewise/guestgate/pkg/logger"
)

const queueGroup = "notify-workers"

type Worker struct {
	bus  events.Subscriber
	mail mailer.Service
}

func NewWorker(bus events.Subscriber, mail mailer.Service) *Worker {
	return &Worker{bus: bus, mail: mail}
}

func (w *Worker) Start() error {
	return w.bus.QueueSubscribe(events.NotifySend, queueGroup, w.handle)
}

func (w *Worker) handle(msg *events.Message) {
	var ev events.NotificationEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		logger.Error("Notify: dropping malformed event", "error", err)
		return
	}
	if ev.Recipient == "" {
		return
	}

	name, _ := ev.Data["recipientName"].(string)
	text, _ := ev.Data["text"].(string)
	if text == "" {
		text = ev.Subject
	}
	html := fmt.Sprintf("<p>%s</p>", text)

	if _, err := w.mail.Send(ev.Recipient, name, ev.Subject, text, html); err != nil {
		logger.Error("Notify: delivery failed", "error", err, "recipient", ev.Recipient, "type", ev.Type)
		return
	}
	logger.Debug("Notify: delivered", "recipient", ev.Recipient, "type", ev.Type)
}
