package api

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

const publishTimeout = 10 * time.Second

// publishQueueSize bounds how many request logs may wait for Kafka.
var publishQueueSize = 1024

// publisher writes queued request logs to Kafka from a single goroutine.
// When the queue is full new entries are dropped, so a slow or unreachable
// broker never holds up requests or piles up goroutines.
type publisher struct {
	kw    MessageWriter
	queue chan kafka.Message
	done  chan struct{}
}

func newPublisher(kw MessageWriter, size int) *publisher {
	p := &publisher{
		kw:    kw,
		queue: make(chan kafka.Message, size),
		done:  make(chan struct{}),
	}
	go p.run()

	return p
}

func (p *publisher) run() {
	defer close(p.done)

	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := p.kw.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			log.Errorf("[publisher][%s] failed to write log to Kafka: %v", shorten(string(msg.Key)), err)
			continue
		}
		log.Debugf("[publisher][%s] log entry sent to Kafka", shorten(string(msg.Key)))
	}
}

// publish queues msg and reports whether there was room for it.
func (p *publisher) publish(msg kafka.Message) bool {
	select {
	case p.queue <- msg:
		return true
	default:
		return false
	}
}

// close flushes the queued messages. No publish may follow it.
func (p *publisher) close() {
	close(p.queue)
	<-p.done
}
