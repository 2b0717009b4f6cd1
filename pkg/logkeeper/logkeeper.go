// Package logkeeper moves request log entries from Kafka into Elasticsearch.
package logkeeper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"fruitlog/pkg/logger"
)

type Config struct {
	LogLevel     string   `toml:"logLevel"`
	KafkaBrokers []string `toml:"kafkaBrokers"`
	KafkaTopic   string   `toml:"kafkaTopic"`
	KafkaGroupID string   `toml:"kafkaGroupID"`

	ElasticSearchIndex string   `toml:"elasticSearchIndex"`
	ElasticSearchNodes []string `toml:"elasticSearchNodes"`

	NumWorkers int `toml:"numWorkers"`
}

// LoadConfig reads a TOML config file. NumWorkers defaults to 1.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.NumWorkers < 1 {
		cfg.NumWorkers = 1
	}
	if len(cfg.KafkaBrokers) == 0 || cfg.KafkaTopic == "" {
		return Config{}, fmt.Errorf("kafka brokers and topic are required")
	}
	if cfg.ElasticSearchIndex == "" {
		return Config{}, fmt.Errorf("elasticsearch index is required")
	}
	return cfg, nil
}

// MessageReader is the part of *kafka.Reader the keeper uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Indexer stores one document under id.
type Indexer interface {
	Index(ctx context.Context, index, id string, body io.Reader) error
}

type esIndexer struct {
	es *elasticsearch.Client
}

func NewESIndexer(nodes []string) (Indexer, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: nodes})
	if err != nil {
		return nil, err
	}
	return &esIndexer{es: es}, nil
}

func (i *esIndexer) Index(ctx context.Context, index, id string, body io.Reader) error {
	res, err := i.es.Index(
		index,
		body,
		i.es.Index.WithDocumentID(id),
		i.es.Index.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index document %s: %s", id, res.String())
	}
	return nil
}

// Run reads messages until ctx is cancelled and fans them out to
// cfg.NumWorkers workers. It returns after every worker has exited.
func Run(ctx context.Context, r MessageReader, idx Indexer, cfg Config) {
	workers := cfg.NumWorkers
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan kafka.Message, workers*5) // buffer is needed to increase throughput
	var wg sync.WaitGroup
	wg.Add(workers)
	for workerID := 0; workerID < workers; workerID++ {
		go func(id int) {
			defer wg.Done()
			worker(ctx, idx, jobs, cfg.ElasticSearchIndex, id)
		}(workerID)
	}

	log.Info("[logkeeper] accepting logs...")
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				break
			}
			log.Errorf("[logkeeper] failed to read message from Kafka: %v", err)
			continue
		}
		log.Debugf("[logkeeper] received message: %s", string(msg.Value))

		select {
		case jobs <- msg:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	close(jobs)
	wg.Wait()
}

func worker(ctx context.Context, idx Indexer, jobs <-chan kafka.Message, index string, workerID int) {
	for {
		select {
		case <-ctx.Done():
			log.Infof("[logkeeper][workerID:%d] context cancelled, exiting worker", workerID)
			return

		case msg, ok := <-jobs:
			if !ok {
				log.Infof("[logkeeper][workerID:%d] jobs channel closed, exiting worker", workerID)
				return
			}

			var entry logger.Entry
			if err := json.Unmarshal(msg.Value, &entry); err != nil {
				log.Errorf("[logkeeper][workerID:%d] failed to unmarshal log entry: %v", workerID, err)
				continue
			}

			if err := idx.Index(ctx, index, entry.DocumentID(), bytes.NewReader(msg.Value)); err != nil {
				log.Errorf("[logkeeper][workerID:%d] failed to index document: %v", workerID, err)
				continue
			}
			log.Infof("[logkeeper][workerID:%d][%s] log entry indexed", workerID, shorten(entry.RequestID))
		}
	}
}

func shorten(s string) string {
	if len(s) > 6 {
		return s[:6] + "..."
	}
	return s
}
