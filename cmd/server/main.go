package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"fruitlog/pkg/api"
	"fruitlog/pkg/config"
	"fruitlog/pkg/storage"
	"fruitlog/pkg/storage/memdb"
	"fruitlog/pkg/storage/mongo"
	"fruitlog/pkg/storage/postgres"
	"fruitlog/pkg/storage/sqlite"
)

func main() {
	var (
		configPath string
		dev        bool
		port       int
		logLevel   string
		kafkaAddr  string
		kafkaTopic string
		kafkaBatch int
	)

	flag.StringVar(&configPath, "config", "cmd/server/config.toml", "Path to TOML config file.")
	flag.BoolVar(&dev, "dev", false, "Run the server in development mode with in-memory DB.")
	flag.IntVar(&port, "port", 0, "HTTP port, overrides PORT.")
	flag.StringVar(&logLevel, "log", "", "Log level: debug, info, warn, error.")
	flag.StringVar(&kafkaAddr, "kafka", "", "Kafka server address in the form 'host:port'.")
	flag.StringVar(&kafkaTopic, "topic", "", "Kafka topic for request logs.")
	flag.IntVar(&kafkaBatch, "batch", 0, "Kafka batch size.")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warnf("[server] failed to load .env file: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[server] %v", err)
	}

	// Override config with flags if set
	if dev {
		cfg.DatabaseURL = string(config.BackendMemory)
	}
	if port != 0 {
		cfg.Port = port
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if kafkaAddr != "" {
		cfg.KafkaAddr = kafkaAddr
	}
	if kafkaTopic != "" {
		cfg.KafkaTopic = kafkaTopic
	}
	if kafkaBatch != 0 {
		cfg.KafkaBatch = kafkaBatch
	}

	log.SetLevel(cfg.Level())
	log.Debugf("[server] config: %s", cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := openStorage(ctx, cfg)
	cancel()
	if err != nil {
		log.Fatalf("[server] %v", err)
	}

	var kafkaWriter *kafka.Writer
	if cfg.KafkaAddr != "" && cfg.KafkaTopic != "" {
		kafkaWriter = &kafka.Writer{
			Addr:      kafka.TCP(cfg.KafkaAddr),
			Topic:     cfg.KafkaTopic,
			BatchSize: cfg.KafkaBatch,
		}
		if err := createTopic(kafkaWriter.Addr.String(), kafkaWriter.Topic); err != nil {
			log.Warnf("[server] failed to create Kafka topic: %v", err)
		}
	} else {
		log.Warnf("[server] kafka was not configured, logs will not be sent to Kafka")
	}

	var kw api.MessageWriter
	if kafkaWriter != nil {
		kw = kafkaWriter
	}
	api := api.New(cfg.ServiceName, db, kw)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: api.Router(),
	}

	go func() {
		log.Infof("[server] starting on %v", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[server] failed to start: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownRelease()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("[server] HTTP server shutdown error: %v", err)
	} else {
		log.Info("[server] HTTP server shut down gracefully")
	}

	api.Close()
	if kafkaWriter != nil {
		if err := kafkaWriter.Close(); err != nil {
			log.Errorf("[server] failed to close Kafka writer: %v", err)
		}
	}

	db.Close()
	log.Info("[server] disconnected from DB")
}

// openStorage connects to the backend DatabaseURL selects and makes sure
// the fruit_logs table exists.
func openStorage(ctx context.Context, cfg config.Config) (storage.Storage, error) {
	backend, target, err := cfg.Backend()
	if err != nil {
		return nil, err
	}

	var db storage.Storage
	switch backend {
	case config.BackendMemory:
		log.Info("[server] run server with in memory DB")
		db = memdb.New()
	case config.BackendSQLite:
		s, err := sqlite.New(ctx, target)
		if err != nil {
			return nil, err
		}
		log.Infof("[server] using sqlite database %s", target)
		db = s
	case config.BackendPostgres:
		s, err := postgres.New(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrConnectDB, err)
		}
		log.Info("[server] connected to postgres")
		db = s
	case config.BackendMongo:
		s, err := mongo.New(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrConnectDB, err)
		}
		log.Info("[server] connected to mongo")
		db = s
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrUnsupportedDB, backend)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", storage.ErrDBNotResponding, err)
	}
	if err := db.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createTopic(broker, topic string) error {
	conn, err := kafka.DialContext(context.Background(), "tcp", broker)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
}
