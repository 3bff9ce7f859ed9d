package testing

import (
	"encoding/json"
	"errors"
	"sync"
)

// PublishedMessage is a message captured by RecordingPublisher
type PublishedMessage struct {
	Subject string
	Data    []byte
}

// Decode unmarshals the payload into v
func (m PublishedMessage) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// RecordingPublisher records published messages instead of sending them
type RecordingPublisher struct {
	lock     sync.Mutex
	messages []PublishedMessage
	// Fail makes every Publish call return an error
	Fail bool
}

func (p *RecordingPublisher) Publish(subject string, data []byte) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.Fail {
		return errors.New("publish failed")
	}
	p.messages = append(p.messages, PublishedMessage{Subject: subject, Data: append([]byte(nil), data...)})
	return nil
}

func (p *RecordingPublisher) Messages() []PublishedMessage {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]PublishedMessage(nil), p.messages...)
}
