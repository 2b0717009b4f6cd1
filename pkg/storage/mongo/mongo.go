package mongo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fruitlog/pkg/storage"
)

// DefaultDBName is used when the connection URI names no database.
const DefaultDBName = "fruitlog"

const countersCollection = "counters"

type document struct {
	ID        int64     `bson:"_id"`
	Date      string    `bson:"date"`
	Fruit     string    `bson:"fruit"`
	Origin    string    `bson:"origin"`
	Rating    int       `bson:"rating"`
	Store     string    `bson:"store"`
	Region    string    `bson:"region"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d document) log() storage.Log {
	return storage.Log{
		ID:        d.ID,
		Date:      d.Date,
		Fruit:     d.Fruit,
		Origin:    d.Origin,
		Rating:    d.Rating,
		Store:     d.Store,
		Region:    d.Region,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

type Storage struct {
	client *mongo.Client
	dbName string
}

// New connects to the MongoDB deployment at uri. The database is taken from
// the URI path, falling back to DefaultDBName.
func New(ctx context.Context, uri string) (*Storage, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	return &Storage{client: client, dbName: dbName(uri)}, nil
}

func dbName(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return DefaultDBName
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name
	}
	return DefaultDBName
}

func (s *Storage) logs() *mongo.Collection {
	return s.client.Database(s.dbName).Collection(storage.TableName)
}

// Init creates the logs collection and its date index if they are missing.
func (s *Storage) Init(ctx context.Context) error {
	db := s.client.Database(s.dbName)
	names, err := db.ListCollectionNames(ctx, bson.M{"name": storage.TableName})
	if err != nil {
		return err
	}
	if len(names) == 0 {
		if err := db.CreateCollection(ctx, storage.TableName); err != nil {
			return fmt.Errorf("create %s collection: %w", storage.TableName, err)
		}
	}

	_, err = s.logs().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "date", Value: -1}, {Key: "_id", Value: -1}},
	})
	return err
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Storage) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.client.Disconnect(ctx)
}

func (s *Storage) Logs(ctx context.Context) ([]storage.Log, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}, {Key: "_id", Value: -1}})

	cur, err := s.logs().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}

	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	logs := make([]storage.Log, 0, len(docs))
	for _, d := range docs {
		logs = append(logs, d.log())
	}
	return logs, nil
}

// AddLog inserts a log under the next value of the fruit_logs counter.
// Counter values are never decremented, so ids are not reused.
func (s *Storage) AddLog(ctx context.Context, l storage.Log) (storage.Log, error) {
	id, err := s.nextID(ctx)
	if err != nil {
		return storage.Log{}, err
	}

	doc := document{
		ID:        id,
		Date:      l.Date,
		Fruit:     l.Fruit,
		Origin:    l.Origin,
		Rating:    l.Rating,
		Store:     l.Store,
		Region:    l.Region,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.logs().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.Log{}, fmt.Errorf("%w: %v", storage.ErrConstraint, err)
		}
		return storage.Log{}, err
	}

	return doc.log(), nil
}

func (s *Storage) nextID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := s.client.Database(s.dbName).Collection(countersCollection).FindOneAndUpdate(
		ctx,
		bson.M{"_id": storage.TableName},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("next log id: %w", err)
	}
	return counter.Seq, nil
}

func (s *Storage) DeleteLog(ctx context.Context, id int64) error {
	err := s.logs().FindOne(ctx, bson.M{"_id": id}).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return storage.ErrLogNotFound
		}
		return err
	}

	res, err := s.logs().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return storage.ErrLogNotFound
	}
	return nil
}
